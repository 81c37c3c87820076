package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-dispatch-service/internal/types"
)

// WebhookAdapter delivers a message by POSTing it as JSON to the channel's
// provider endpoint. Provider-specific wire formats live behind that
// endpoint, not here.
type WebhookAdapter struct {
	providerURL string
	client      *http.Client
}

func NewWebhookAdapter(providerURL string, timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{
		providerURL: providerURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (a *WebhookAdapter) Send(ctx context.Context, msg Outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return types.NewAdapterError("encode", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.providerURL, bytes.NewReader(payload))
	if err != nil {
		return types.NewAdapterError("request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// timeouts and transport failures are transient adapter errors
		return types.NewAdapterError("transport", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAdapterError(
			fmt.Sprintf("http_%d", resp.StatusCode),
			string(body),
		)
	}
	return nil
}
