//go:build !tsfdebug

package textstore

import "fmt"

// assertf logs a broken internal invariant and lets the caller fall back to
// its safe path.
func (s *TextStore) assertf(cond bool, format string, args ...any) {
	if !cond {
		s.log.Error("internal invariant violated", "detail", fmt.Sprintf(format, args...))
	}
}
