package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "lotebot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		mode  string
		check func(t *testing.T, out []string)
	}{
		{
			name: "short text is one chunk", in: "hello", limit: 10,
			check: func(t *testing.T, out []string) {
				if len(out) != 1 || out[0] != "hello" {
					t.Fatalf("out = %q", out)
				}
			},
		},
		{
			name: "prefers newline", in: "aaaaaaa\nbbbbbbbbbb", limit: 10,
			check: func(t *testing.T, out []string) {
				if len(out) < 2 || out[0] != "aaaaaaa" {
					t.Fatalf("out = %q", out)
				}
			},
		},
		{
			name: "html tag not split", in: "abcdef<b>xyz</b>", limit: 8, mode: "HTML",
			check: func(t *testing.T, out []string) {
				if out[0] != "abcdef" {
					t.Fatalf("first chunk %q cuts a tag", out[0])
				}
			},
		},
		{
			name: "runes not bytes", in: strings.Repeat("é", 25), limit: 10,
			check: func(t *testing.T, out []string) {
				if len(out) != 3 || len([]rune(out[0])) != 10 {
					t.Fatalf("out = %q", out)
				}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := splitTelegramText(tt.in, tt.limit, tt.mode)
			if strings.Join(out, "") == "" && tt.in != "" {
				t.Fatalf("lost content")
			}
			tt.check(t, out)
		})
	}
}

func TestMediaKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *tele.Message
		want kit.MediaKind
	}{
		{"photo", &tele.Message{Photo: &tele.Photo{}}, kit.MediaPhoto},
		{"document", &tele.Message{Document: &tele.Document{}}, kit.MediaDocument},
		{"gif also carries document", &tele.Message{Animation: &tele.Animation{}, Document: &tele.Document{}}, kit.MediaAnimation},
		{"video", &tele.Message{Video: &tele.Video{}}, kit.MediaVideo},
		{"audio", &tele.Message{Audio: &tele.Audio{}}, kit.MediaAudio},
		{"sticker", &tele.Message{Sticker: &tele.Sticker{}}, kit.MediaSticker},
		{"voice does not qualify", &tele.Message{Voice: &tele.Voice{}}, ""},
		{"text", &tele.Message{Text: "hi"}, ""},
	}
	for _, tt := range tests {
		if got := mediaKind(tt.msg); got != tt.want {
			t.Fatalf("%s: mediaKind = %q, want %q", tt.name, got, tt.want)
		}
		if got := mediaKind(tt.msg).Qualifies(); got != (tt.want != "") {
			t.Fatalf("%s: Qualifies = %v", tt.name, got)
		}
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:      7,
		Chat:    &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:  &tele.User{ID: 42, Username: "ana"},
		Caption: "cap",
		Photo:   &tele.Photo{},
	}
	km := convertMessage(m)
	if km.ID != 7 || km.ChatID != -100 || !km.IsGroup || km.FromID != 42 || km.Text != "cap" || km.Media != kit.MediaPhoto {
		t.Fatalf("converted = %+v", km)
	}
	if ref := km.Ref(); ref.ChatID != -100 || ref.MessageID != 7 {
		t.Fatalf("ref = %+v", ref)
	}

	// Channel posts have no sender.
	if km := convertMessage(&tele.Message{ID: 1, Chat: &tele.Chat{ID: 5}}); km.FromID != 0 {
		t.Fatalf("from = %d", km.FromID)
	}
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	if got := recipient(kit.ChatTarget{Username: "@chan", ChatID: 9}).Recipient(); got != "@chan" {
		t.Fatalf("username recipient = %q", got)
	}
	if got := recipient(kit.ChatTarget{ChatID: -1001}).Recipient(); got != "-1001" {
		t.Fatalf("id recipient = %q", got)
	}
	if id, chat := stored(kit.MessageRef{ChatID: 3, MessageID: 11}).MessageSig(); id != "11" || chat != 3 {
		t.Fatalf("stored sig = %s, %d", id, chat)
	}
}
