package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyPane1    = "1"
	KeyPane2    = "2"
	KeyPane3    = "3"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyJ        = "j"
	KeyK        = "k"
	KeyTick     = "t"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView(canTick bool) string {
	help := "Tab: cycle focus | 1/2/3: jump to pane | j/k: select/scroll | q: quit"
	if canTick {
		help += " | t: run tick now"
	}
	return StyleHelp.Render(help)
}
