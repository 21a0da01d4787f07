//go:build tsfdebug

package textstore

import "fmt"

// assertf panics when cond is false. Debug builds only.
func (s *TextStore) assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("textstore: "+format, args...))
	}
}
