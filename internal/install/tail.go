package install

import "strings"

// tail keeps the most recent lines in a fixed ring.
type tail struct {
	buf  []string
	next int
	full bool
}

func newTail(n int) *tail {
	if n <= 0 {
		n = 1
	}
	return &tail{buf: make([]string, n)}
}

func (t *tail) push(line string) {
	t.buf[t.next] = line
	t.next++
	if t.next == len(t.buf) {
		t.next = 0
		t.full = true
	}
}

func (t *tail) String() string {
	if !t.full {
		return strings.Join(t.buf[:t.next], "\n")
	}
	out := make([]string, 0, len(t.buf))
	out = append(out, t.buf[t.next:]...)
	out = append(out, t.buf[:t.next]...)
	return strings.Join(out, "\n")
}
