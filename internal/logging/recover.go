package logging

import (
	"fmt"
	"runtime/debug"
)

// Recover logs a panic raised in the calling goroutine instead of letting it
// take the daemon down. It must be called directly via defer:
//
//	defer logger.Recover("vault load")
//
// onPanic, if given, runs after the panic is logged.
func (l *Logger) Recover(where string, onPanic ...func(any)) {
	v := recover()
	if v == nil {
		return
	}
	l.Error("recovered panic",
		"where", where,
		"panic", fmt.Sprint(v),
		"stack", string(debug.Stack()),
	)
	for _, fn := range onPanic {
		fn(v)
	}
}
