// Package sshinfo reports how to reach the companion sshd from another
// machine: the first non-loopback IPv4 address and the stored password.
package sshinfo

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/luxiaoyu/claw-app/internal/logfields"
)

const (
	// DefaultPort is the port Termux's sshd listens on.
	DefaultPort = 8022
	// PasswordFile is read from the runtime home.
	PasswordFile = ".ssh_password"
	// UnknownHost stands in when no usable address was found.
	UnknownHost = "<device-ip>"
)

// Info describes one way to connect.
type Info struct {
	Host     string
	Port     int
	Password string // empty when not set
}

// ConnectionString is the ssh command line for Info.
func (i Info) ConnectionString() string {
	return fmt.Sprintf("ssh -p %d %s", i.Port, i.Host)
}

func (i Info) String() string {
	pw := i.Password
	if pw == "" {
		pw = "<not set>"
	}
	return i.ConnectionString() + "\nPassword: " + pw
}

// Discover gathers connection info. It only reads; failures degrade to
// UnknownHost or an empty password.
func Discover(home string, logger *slog.Logger) Info {
	if logger == nil {
		logger = slog.Default()
	}
	host, err := LocalIPv4()
	if err != nil {
		logger.Warn("Network discovery failed", logfields.Error(err))
	}
	if host == "" {
		host = UnknownHost
	}
	path := filepath.Join(home, PasswordFile)
	pw, err := ReadPassword(path)
	if err != nil {
		logger.Debug("No SSH password found", logfields.Path(path), logfields.Error(err))
	}
	return Info{Host: host, Port: DefaultPort, Password: pw}
}

// LocalIPv4 returns the first IPv4 address of an up, non-loopback interface,
// or "" when there is none.
func LocalIPv4() (string, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, ifc := range ifs {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip, nil
		}
	}
	return "", nil
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
			return v4.String()
		}
	}
	return ""
}

// ReadPassword returns the trimmed first line of path. A missing file or a
// blank first line yields "" and an error.
func ReadPassword(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from configuration
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s is empty", path)
	}
	pw := strings.TrimSpace(sc.Text())
	if pw == "" {
		return "", fmt.Errorf("%s has a blank first line", path)
	}
	return pw, nil
}
