package runner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/luxiaoyu/claw-app/internal/script"
	"github.com/luxiaoyu/claw-app/internal/shellenv"
)

const lookupTimeout = 5 * time.Second

// ErrNotFound is returned by CommandPath when the name does not resolve.
var ErrNotFound = errors.New("command not found")

// CommandPath resolves name with `command -v` inside env. Output logging is
// disabled for the lookup.
func (r *Runner) CommandPath(ctx context.Context, env shellenv.Config, name string) (string, error) {
	res, err := r.Run(ctx, Request{
		Command:        "command -v " + script.Quote(name),
		Env:            env,
		Timeout:        lookupTimeout,
		MaxLoggedLines: Lines(0),
	})
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(res.Stdout)
	if !res.Success || path == "" {
		return "", ErrNotFound
	}
	return path, nil
}

// CommandExists reports whether name resolves inside env.
func (r *Runner) CommandExists(ctx context.Context, env shellenv.Config, name string) bool {
	_, err := r.CommandPath(ctx, env, name)
	return err == nil
}
