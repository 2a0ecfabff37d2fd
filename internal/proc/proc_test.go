//go:build unix

package proc

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}

func TestKillGroup(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30")
	SetProcessGroup(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	KillGroup(cmd.Process)
	select {
	case err := <-done:
		assert.Error(t, err, "killed child reports a signal exit")
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
	KillGroup(nil)
}
