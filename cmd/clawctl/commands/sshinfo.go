package commands

import (
	"fmt"

	"github.com/luxiaoyu/claw-app/internal/sshinfo"
)

// SSHInfoCmd implements the 'ssh-info' command.
type SSHInfoCmd struct{}

func (c *SSHInfoCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.out(), sshinfo.Discover(cfg.Runtime.Home, g.logger()))
	return nil
}
