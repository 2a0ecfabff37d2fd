package runner

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/luxiaoyu/claw-app/internal/logfields"
)

// collector accumulates every output line and forwards a capped prefix of them
// to the logger.
type collector struct {
	buf    strings.Builder
	lines  int
	logger *slog.Logger
	limit  *int
	logged int
}

func newCollector(logger *slog.Logger, limit *int) *collector {
	return &collector{logger: logger, limit: limit}
}

// drain reads r line by line until EOF. A read end closed by the runner after a
// kill is not an error.
func (c *collector) drain(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			c.add(strings.TrimRight(line, "\r\n"))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return nil
		}
		return err
	}
}

func (c *collector) add(line string) {
	c.buf.WriteString(line)
	c.buf.WriteByte('\n')
	c.lines++

	switch {
	case c.limit == nil || c.logged < *c.limit:
		c.logger.Debug("output", logfields.Line(line))
		c.logged++
	case c.logged == *c.limit && *c.limit > 0:
		c.logger.Debug("...(output truncated)", logfields.Lines(*c.limit))
		c.logged++
	}
}

func (c *collector) String() string {
	return c.buf.String()
}
