package tgui

import tele "gopkg.in/telebot.v4"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...Button) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid lays buttons out cols per row.
func (i *Inline) Grid(cols int, btn ...Button) *Inline {
	if cols <= 0 {
		cols = 1
	}
	for start := 0; start < len(btn); start += cols {
		i.Row(btn[start:min(start+cols, len(btn))]...)
	}
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Rows returns the number of rows added so far.
func (i *Inline) Rows() int { return len(i.rows) }

// Btn creates a callback button. data is used verbatim; build it with Data.
func Btn(text, data string) Button {
	return Button{Text: text, Data: data}
}

// Button is a telebot inline button.
type Button = tele.Btn
