package model

import "fmt"

// Window selects one of the trained prediction horizons.
type Window int

const (
	Window6 Window = iota
	Window12
	Window24
)

const NumWindows = 3

var windowHours = [NumWindows]int{6, 12, 24}

// WindowFromHours maps the external hour vocabulary {6, 12, 24} to a Window.
// Anything else resolves to Window6.
func WindowFromHours(hours int) Window {
	for i, h := range windowHours {
		if h == hours {
			return Window(i)
		}
	}
	return Window6
}

// Clamp forces w into the range of registered heads.
func (w Window) Clamp() Window {
	switch {
	case w < Window6:
		return Window6
	case w > Window24:
		return Window24
	}
	return w
}

func (w Window) Hours() int {
	return windowHours[w.Clamp()]
}

func (w Window) String() string {
	return fmt.Sprintf("%dh", w.Hours())
}
