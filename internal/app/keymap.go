package app

// Key binding constants used in handleKey.
const (
	KeyQuit          = "q"
	KeyQuitUpper     = "Q"
	KeyCtrlC         = "ctrl+c"
	KeyUp            = "up"
	KeyDown          = "down"
	KeyJ             = "j"
	KeyK             = "k"
	KeyRefresh       = "r"
	KeyNextInstr     = "i"
	KeyPrevInstr     = "I"
	KeyAllInstrument = "a"
)
