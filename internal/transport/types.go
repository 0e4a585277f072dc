package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateMedia    UpdateKind = "media"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// MediaKind names the content type of an inbound media message.
// Only the kinds listed in Qualifies are accepted by the relay.
type MediaKind string

const (
	MediaDocument  MediaKind = "document"
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
)

// Qualifies reports whether k is a media kind accepted for relaying.
func (k MediaKind) Qualifies() bool {
	switch k {
	case MediaDocument, MediaPhoto, MediaVideo, MediaAudio, MediaAnimation, MediaSticker:
		return true
	default:
		return false
	}
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// Media is empty for plain text messages.
	Media MediaKind
}

// Ref returns the message location, used to copy or delete it later.
func (m *Message) Ref() MessageRef {
	if m == nil {
		return MessageRef{}
	}
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ChatTarget addresses a chat. Username (e.g. "@channel") takes precedence
// over ChatID when set; public channels are usually configured that way.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
	Username string
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyToMessageID   int
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// TextSender is the minimal surface needed to post human-readable text.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// MessageMover copies a message to another chat and deletes originals.
type MessageMover interface {
	CopyMessage(ctx context.Context, from MessageRef, to ChatTarget) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

type Adapter interface {
	TextSender
	MessageMover

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
