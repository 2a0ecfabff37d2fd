// Package script assembles POSIX shell scripts line by line. Every dynamic value
// goes through Quote, so paths and patterns with spaces or quotes stay intact.
package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Builder accumulates script lines. The zero value is ready to use.
type Builder struct {
	lines  []string
	indent int
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// Line appends one line at the current indentation. Arguments are formatted with
// fmt.Sprintf and inserted verbatim: quote them first.
func (b *Builder) Line(format string, args ...any) *Builder {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	b.lines = append(b.lines, strings.Repeat("  ", b.indent)+text)
	return b
}

// Cmd appends a simple command whose words are all quoted.
func (b *Builder) Cmd(argv ...string) *Builder {
	return b.Line("%s", Command(argv...))
}

// Export appends `export NAME=value`.
func (b *Builder) Export(name, value string) *Builder {
	return b.Line("export %s=%s", name, Quote(value))
}

// Assign appends `NAME=value` without exporting.
func (b *Builder) Assign(name, value string) *Builder {
	return b.Line("%s=%s", name, Quote(value))
}

// Sleep appends a sleep for d, rendered in (possibly fractional) seconds.
func (b *Builder) Sleep(d time.Duration) *Builder {
	if d <= 0 {
		return b
	}
	return b.Line("sleep %s", Seconds(d))
}

// Block writes head, the body indented one level, then tail.
func (b *Builder) Block(head, tail string, body func(*Builder)) *Builder {
	b.Line("%s", head)
	b.indent++
	body(b)
	b.indent--
	return b.Line("%s", tail)
}

// If writes `if cond; then ... fi`. Use IfElse for an else branch.
func (b *Builder) If(cond string, then func(*Builder)) *Builder {
	return b.Block("if "+cond+"; then", "fi", then)
}

// IfElse writes `if cond; then ... else ... fi`.
func (b *Builder) IfElse(cond string, then, otherwise func(*Builder)) *Builder {
	b.Line("if %s; then", cond)
	b.indent++
	then(b)
	b.indent--
	b.Line("else")
	b.indent++
	otherwise(b)
	b.indent--
	return b.Line("fi")
}

// Subshell writes `( ... )`.
func (b *Builder) Subshell(body func(*Builder)) *Builder {
	return b.Block("(", ")", body)
}

// Len reports the number of lines written so far.
func (b *Builder) Len() int {
	return len(b.lines)
}

// String returns the script with a trailing newline.
func (b *Builder) String() string {
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

// Quote returns s as a single shell word. Safe words are left bare.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Command quotes and joins argv into one command line.
func Command(argv ...string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Seconds renders d for sleep(1): whole seconds as integers, otherwise up to
// millisecond precision ("0.5", "1.25").
func Seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
}

func isSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_@%+=:,./-", r):
		default:
			return false
		}
	}
	return true
}
