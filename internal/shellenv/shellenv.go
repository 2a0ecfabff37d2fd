// Package shellenv builds the environment handed to child processes that run
// inside the managed runtime.
package shellenv

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/luxiaoyu/claw-app/internal/config"
)

// NodeIPv4First makes the daemon's Node runtime prefer IPv4 answers.
const NodeIPv4First = "--dns-result-order=ipv4first"

// Inherited TLS settings usually point at the parent's trust store, not the runtime's.
var tlsVars = []string{
	"SSL_CERT_FILE",
	"SSL_CERT_DIR",
	"CURL_CA_BUNDLE",
	"REQUESTS_CA_BUNDLE",
	"NODE_EXTRA_CA_CERTS",
}

// Dropped so git in children falls back to HTTPS.
var sshVars = []string{
	"GIT_SSH",
	"GIT_SSH_COMMAND",
	"SSH_AUTH_SOCK",
	"SSH_AGENT_PID",
}

// Config is the input to Build. It is a value; Build never mutates it.
type Config struct {
	Prefix      string
	Home        string
	TmpDir      string
	ExtraPaths  []string
	ExtraVars   map[string]string
	RemovedVars []string
}

// Standard returns the configuration every runtime child gets: git helpers on the
// path and IPv4-first DNS for Node.
func Standard(prefix, home, tmpDir string) Config {
	return Config{
		Prefix:     prefix,
		Home:       home,
		TmpDir:     tmpDir,
		ExtraPaths: []string{filepath.Join(prefix, "libexec", "git-core")},
		ExtraVars:  map[string]string{"NODE_OPTIONS": NodeIPv4First},
	}
}

// FromRuntime layers the configured runtime overrides on top of Standard.
func FromRuntime(rc config.RuntimeConfig) Config {
	c := Standard(rc.Prefix, rc.Home, rc.TmpDir)
	c.ExtraPaths = append(c.ExtraPaths, rc.ExtraPaths...)
	for k, v := range rc.ExtraEnv {
		c.ExtraVars[k] = v
	}
	c.RemovedVars = append(c.RemovedVars, rc.RemoveEnv...)
	return c
}

// CertFile is the trust store shipped inside the runtime.
func (c Config) CertFile() string {
	return filepath.Join(c.Prefix, "etc", "tls", "cert.pem")
}

// BinDir is the runtime's executable directory.
func (c Config) BinDir() string {
	return filepath.Join(c.Prefix, "bin")
}

// Build derives a child environment from inherited. The result is a fresh map;
// removedVars and then extraVars are applied last so callers always win.
func Build(c Config, inherited map[string]string) map[string]string {
	env := make(map[string]string, len(inherited)+8)
	for k, v := range inherited {
		env[k] = v
	}

	for _, k := range tlsVars {
		delete(env, k)
	}

	env["PREFIX"] = c.Prefix
	env["HOME"] = c.Home
	env["TMPDIR"] = c.TmpDir

	path := []string{c.BinDir()}
	for _, p := range c.ExtraPaths {
		if p != "" {
			path = append(path, p)
		}
	}
	if sys := inherited["PATH"]; sys != "" {
		path = append(path, sys)
	}
	env["PATH"] = strings.Join(path, string(os.PathListSeparator))

	env["LD_LIBRARY_PATH"] = filepath.Join(c.Prefix, "lib")
	env["SSL_CERT_FILE"] = c.CertFile()

	for _, k := range sshVars {
		delete(env, k)
	}

	for _, k := range c.RemovedVars {
		delete(env, k)
	}
	for k, v := range c.ExtraVars {
		env[k] = v
	}
	return env
}

// Parse converts KEY=VALUE pairs (as from os.Environ) into a map. Later
// duplicates win; entries without '=' are skipped.
func Parse(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Current returns the calling process's environment as a map.
func Current() map[string]string {
	return Parse(os.Environ())
}

// Environ renders env as sorted KEY=VALUE pairs for exec.Cmd.Env.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
