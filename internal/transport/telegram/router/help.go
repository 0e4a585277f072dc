package router

import (
	"strings"

	"lotebot/pkg/tgui"
)

// helpMessage renders the command list, or the usage of one command when
// args names it.
func (m *CommandManager) helpMessage(args []string) tgui.Message {
	m.mu.RLock()
	ordered := m.ordered
	byName := m.commands
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c := byName[name]
		if c == nil {
			return tgui.New().
				Title("❓", "Unknown command").
				HTML(tgui.JoinH(" ", tgui.Raw("Try"), tgui.Code("/help"), tgui.Raw("for the list."))).
				Build()
		}
		b := tgui.New().Title("ℹ️", "/"+c.Name).Line(c.Description)
		if c.Usage != "" {
			b.KV("Usage", c.Usage)
		}
		if len(c.Aliases) > 0 {
			b.KV("Aliases", "/"+strings.Join(c.Aliases, ", /"))
		}
		if c.Access == AccessOwnerOnly {
			b.KV("Access", "owners only")
		}
		return b.Build()
	}

	b := tgui.New().Title("🤖", "Commands")
	for _, c := range ordered {
		line := tgui.Code("/" + c.Name)
		if len(c.Aliases) > 0 {
			line = tgui.JoinH(" ", line, tgui.Esc("(/"+strings.Join(c.Aliases, ", /")+")"))
		}
		if c.Access == AccessOwnerOnly {
			line = tgui.JoinH(" ", tgui.Raw("🔒"), line)
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line = tgui.JoinH(" - ", line, tgui.Esc(d))
		}
		b.HTML(line)
	}
	b.Blank().Line("Send a document, photo, video, audio, GIF or sticker to queue it.")
	return b.Build()
}
