package domain

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelChatA   Channel = "chat-a"
	ChannelChatB   Channel = "chat-b"
	ChannelSocialA Channel = "social-a"
	ChannelSocialB Channel = "social-b"
)

// Channels lists every known channel, in dispatch order.
var Channels = []Channel{ChannelEmail, ChannelChatA, ChannelChatB, ChannelSocialA, ChannelSocialB}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelChatA, ChannelChatB, ChannelSocialA, ChannelSocialB:
		return true
	}
	return false
}

// ManualConfirmation reports whether a successful adapter call leaves the
// record waiting for an explicit human "sent" confirmation instead of
// marking it sent. Social channels open a draft in the provider UI; the
// operator confirms after posting.
func (c Channel) ManualConfirmation() bool {
	switch c {
	case ChannelSocialA, ChannelSocialB:
		return true
	case ChannelEmail, ChannelChatA, ChannelChatB:
		return false
	}
	return false
}

type ActionKind string

const (
	ActionSend           ActionKind = "send"
	ActionReply          ActionKind = "reply"
	ActionPost           ActionKind = "post"
	ActionContactCapture ActionKind = "contact_capture"
)

func (a ActionKind) Valid() bool {
	switch a {
	case ActionSend, ActionReply, ActionPost, ActionContactCapture:
		return true
	}
	return false
}
