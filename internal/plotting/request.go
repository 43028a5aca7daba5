// Package plotting sends render requests to the R plotting engine.
//
// A Request names an R function and its positional string arguments. It is
// turned into R source only by Expression, which quotes every argument, so
// values never reach the engine as raw text.
package plotting

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFunction is returned for function names that are not plain R identifiers
var ErrInvalidFunction = errors.New("plotting: invalid function name")

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._]*$`)

// Request is one remote call: Function(Args[0], Args[1], ...)
type Request struct {
	Function string
	Args     []string
}

// Expression renders r as R source, e.g. plot_networksize_line('2024-01-01','2024-01-31','/tmp/ernie/x.png')
func (r Request) Expression() (string, error) {
	if !identRe.MatchString(r.Function) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFunction, r.Function)
	}
	var b strings.Builder
	b.WriteString(r.Function)
	b.WriteByte('(')
	for i, arg := range r.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(QuoteString(arg))
	}
	b.WriteByte(')')
	return b.String(), nil
}

func (r Request) String() string {
	expr, err := r.Expression()
	if err != nil {
		return fmt.Sprintf("%s(<invalid>)", r.Function)
	}
	return expr
}

// QuoteString returns s as a single-quoted R string literal
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Engine executes render requests. Return values of the R side are discarded.
type Engine interface {
	Call(ctx context.Context, req Request) error
	Close() error
}
