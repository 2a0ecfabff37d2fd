//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

func SetProcessGroup(*exec.Cmd) {}

func KillGroup(p *os.Process) {
	if p != nil {
		_ = p.Kill()
	}
}

// Alive reports whether pid names a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
