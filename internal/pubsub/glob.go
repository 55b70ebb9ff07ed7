package pubsub

import (
	"strings"

	"github.com/gobwas/glob"
)

// compilePattern compiles a Redis PSUBSCRIBE pattern. Redis and gobwas/glob
// share *, ? and [...] but differ elsewhere: Redis negates a class with ^
// and treats braces and commas as plain characters.
func compilePattern(pattern string) (glob.Glob, error) {
	return glob.Compile(translatePattern(pattern))
}

func translatePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)

	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			if i+1 == len(pattern) {
				b.WriteString(`\\`)
				continue
			}
			i++
			if inClass {
				b.WriteByte(pattern[i])
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(pattern[i])
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}' || c == ',':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
