package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound operator submission, normalized away from the
// concrete chat platform.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string

	Text    string
	Caption string

	// AlbumID is the media-group correlation id shared by all fragments of
	// one album burst (empty for standalone messages).
	AlbumID string

	// Media is set for photo/video messages.
	Media *MediaItem
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaItem is one deliverable media reference (opaque platform file id).
type MediaItem struct {
	Kind   MediaKind
	FileID string
}

// ChatTarget addresses an outbound destination. Recipient, when set, is a
// raw platform recipient string (e.g. "@channel" or "-100123...") and takes
// precedence over ChatID.
type ChatTarget struct {
	ChatID    int64
	Recipient string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Sender is the delivery surface the publisher depends on.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, item MediaItem, caption string, opt *SendOptions) (MessageRef, error)
	// SendAlbum delivers an ordered media group; the caption is attached to
	// the first item only.
	SendAlbum(ctx context.Context, to ChatTarget, items []MediaItem, caption string, opt *SendOptions) ([]MessageRef, error)
}

// Adapter is the full transport: intake event stream plus delivery.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
