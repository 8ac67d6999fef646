// Package cpon implements Cpon, the JSON-superset textual codec for
// the Silicon Heaven value model (pkg/shvdata). Round-tripping any
// value through Cpon must reproduce the original -- the same law
// pkg/chainpack upholds for the binary form.
package cpon

import (
	"bufio"
	"fmt"
	"io"
)

// lexer is a small rune-at-a-time scanner over the Cpon text, in the
// same state-machine spirit as pkg/minicli's input lexer in the
// teacher repo (a hand-rolled stateFn scanner rather than a
// generated one) -- here collapsed into a single struct with
// peek/next rather than a chain of stateFn values, since Cpon's
// grammar is recursive-descent-friendly and doesn't need the
// line-oriented re-entrant lexing minicli's shell input does.
type lexer struct {
	r    *bufio.Reader
	line int
	col  int
}

func newLexer(r io.Reader) *lexer {
	return &lexer{r: bufio.NewReader(r), line: 1, col: 1}
}

func (l *lexer) peek() (rune, error) {
	r, _, err := l.r.ReadRune()
	if err != nil {
		return 0, err
	}
	l.r.UnreadRune()
	return r, nil
}

func (l *lexer) next() (rune, error) {
	r, _, err := l.r.ReadRune()
	if err != nil {
		return 0, err
	}
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r, nil
}

func (l *lexer) errf(format string, args ...interface{}) error {
	return fmt.Errorf("cpon: line %d:%d: %s", l.line, l.col, fmt.Sprintf(format, args...))
}

// skipSpace consumes whitespace, commas and colons (Cpon treats them
// as optional separators, same as JSON-ish grammars), and // and /* */
// comments.
func (l *lexer) skipSpace() error {
	for {
		r, err := l.peek()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == ',' || r == ':':
			l.next()
		case r == '/':
			l.next()
			r2, err := l.peek()
			if err != nil {
				return l.errf("dangling '/'")
			}
			if r2 == '/' {
				for {
					c, err := l.next()
					if err != nil || c == '\n' {
						break
					}
				}
			} else if r2 == '*' {
				l.next()
				for {
					c, err := l.next()
					if err != nil {
						return l.errf("unterminated /* comment")
					}
					if c == '*' {
						c2, err := l.peek()
						if err == nil && c2 == '/' {
							l.next()
							break
						}
					}
				}
			} else {
				return l.errf("unexpected '/'")
			}
		default:
			return nil
		}
	}
}
