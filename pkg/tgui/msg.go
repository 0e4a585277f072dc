package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "lotebot/internal/transport"
)

// Message is rendered text plus the send options that go with it.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send posts m. replyTo, when non-zero, makes it a reply.
func (m Message) Send(ctx context.Context, ts kit.TextSender, to kit.ChatTarget, replyTo int) (kit.MessageRef, error) {
	opt := m.options()
	opt.ReplyToMessageID = replyTo
	return ts.SendText(ctx, to, m.Text, &opt)
}

// Editor is the part of an adapter that edits messages in place.
type Editor interface {
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// Edit replaces the text (and keyboard) of ref.
func (m Message) Edit(ctx context.Context, ed Editor, ref kit.MessageRef) error {
	opt := m.options()
	return ed.EditText(ctx, ref, m.Text, &opt)
}

func (m Message) options() kit.SendOptions {
	if m.Opt == nil {
		return kit.SendOptions{}
	}
	return *m.Opt
}

// Builder assembles an HTML message line by line. Plain text passed to Line
// and KV is escaped.
type Builder struct {
	rm    *tele.ReplyMarkup
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title, optionally prefixed by an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		return b.HTML(JoinH(" ", Esc(e), B(t)))
	}
	return b.HTML(B(t))
}

func (b *Builder) Line(s string) *Builder { return b.HTML(Esc(s)) }

// HTML appends an already-safe line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, string(h))
	return b
}

func (b *Builder) Blank() *Builder { return b.HTML("") }

// KV adds a "• key: value" line.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	return b.HTML(H("• " + string(B(key)) + ": " + string(Esc(strings.TrimSpace(value)))))
}

// Inline attaches a keyboard; nil removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil && kb.Rows() > 0 {
		b.rm = kb.Markup()
	}
	return b
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
