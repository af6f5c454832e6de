//go:build !windows
// +build !windows

package colors

import "fmt"

// enabled tracks whether ANSI colorization is currently applied.
var enabled = true

// EnableColor turns colorization on. Non-windows terminals support ANSI escape codes natively.
func EnableColor() {
	enabled = true
}

// DisableColor turns colorization off, e.g. when the user requests plain console output.
func DisableColor() {
	enabled = false
}

// Enabled reports whether colorization is currently applied.
func Enabled() bool {
	return enabled
}

// Colorize returns the string s wrapped in ANSI code c for non-windows systems
// Source: https://github.com/rs/zerolog/blob/4fff5db29c3403bc26dee9895e12a108aacc0203/console.go
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
