package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"outreach-dispatch-service/internal/observability"
)

func NewRouter(handler *Handler, logger zerolog.Logger, corsOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(logger))
	router.Use(observability.RequestMetrics())

	corsCfg := cors.DefaultConfig()
	if len(corsOrigins) > 0 {
		corsCfg.AllowOrigins = corsOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/drafts", handler.createDraftHandler)

		approvals := api.Group("/approvals")
		{
			approvals.GET("", handler.listApprovalsHandler)
			approvals.GET("/:id", handler.getApprovalHandler)
			approvals.PUT("/:id/approve", handler.approveHandler)
			approvals.PUT("/:id/reject", handler.rejectHandler)
			approvals.PUT("/:id/edit", handler.editHandler)
			approvals.PUT("/:id/sent-manual", handler.markSentManualHandler)
		}

		api.POST("/compliance/block", handler.blockIdentifierHandler)
		api.GET("/failed-sends", handler.listFailedSendsHandler)
		api.GET("/dead-letters", handler.listDeadLettersHandler)
		api.GET("/events", handler.listEventsHandler)

		cycles := api.Group("/cycles")
		{
			cycles.POST("/dispatch", handler.runDispatchCycleHandler)
			cycles.POST("/retry", handler.runRetrySweepHandler)
		}

		api.PUT("/jobs/:name/toggle", handler.toggleJobHandler)
	}

	return router
}
