package adapter

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "lotebot/internal/transport"
)

func stored(ref kit.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

// CopyMessage re-posts from into to without the "forwarded from" header,
// keeping captions and media.
func (a *Adapter) CopyMessage(ctx context.Context, from kit.MessageRef, to kit.ChatTarget) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	var opts []any
	if to.ThreadID != 0 {
		opts = append(opts, &tele.SendOptions{ThreadID: to.ThreadID})
	}
	msg, err := a.bot.Copy(recipient(to), stored(from), opts...)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if msg != nil {
		ref.MessageID = msg.ID
		if msg.Chat != nil {
			ref.ChatID = msg.Chat.ID
		}
	}
	return ref, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(stored(ref))
}
