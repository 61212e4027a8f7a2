package roadmap

import "log"

// Logf is the package logger. It defaults to the standard library logger.
var Logf = log.Printf

// SetLogger replaces the package logger. Passing nil silences logging.
func SetLogger(fn func(format string, args ...interface{})) {
	if fn == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = fn
}
