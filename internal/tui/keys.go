package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyPause    = "p"
	KeyResume   = "r"
	KeyAnswer   = "a"
	KeyEsc      = "esc"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyJ        = "j"
	KeyK        = "k"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("j/k: select task | tab: focus | p: pause | r: resume | a: answer questions | q: quit (cancels a running session)")
}
