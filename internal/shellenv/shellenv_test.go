package shellenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxiaoyu/claw-app/internal/config"
)

func TestBuild_PathOrderAndRuntimeVars(t *testing.T) {
	c := Config{
		Prefix:     "/p",
		Home:       "/h",
		TmpDir:     "/p/tmp",
		ExtraPaths: []string{"/extra/one", "", "/extra/two"},
	}
	env := Build(c, map[string]string{"PATH": "/usr/bin:/bin", "LANG": "C"})

	assert.Equal(t, "/p/bin:/extra/one:/extra/two:/usr/bin:/bin", env["PATH"])
	assert.Equal(t, "/p", env["PREFIX"])
	assert.Equal(t, "/h", env["HOME"])
	assert.Equal(t, "/p/tmp", env["TMPDIR"])
	assert.Equal(t, "/p/lib", env["LD_LIBRARY_PATH"])
	assert.Equal(t, "/p/etc/tls/cert.pem", env["SSL_CERT_FILE"])
	assert.Equal(t, "C", env["LANG"])
}

func TestBuild_NoInheritedPath(t *testing.T) {
	env := Build(Config{Prefix: "/p"}, nil)
	assert.Equal(t, "/p/bin", env["PATH"])
}

func TestBuild_StripsTLSAndSSH(t *testing.T) {
	inherited := map[string]string{
		"SSL_CERT_DIR":        "/etc/ssl/certs",
		"CURL_CA_BUNDLE":      "/x",
		"REQUESTS_CA_BUNDLE":  "/x",
		"NODE_EXTRA_CA_CERTS": "/x",
		"SSL_CERT_FILE":       "/wrong.pem",
		"GIT_SSH":             "ssh",
		"GIT_SSH_COMMAND":     "ssh -i key",
		"SSH_AUTH_SOCK":       "/tmp/agent",
	}
	env := Build(Config{Prefix: "/p"}, inherited)

	for _, k := range []string{"SSL_CERT_DIR", "CURL_CA_BUNDLE", "REQUESTS_CA_BUNDLE", "NODE_EXTRA_CA_CERTS", "GIT_SSH", "GIT_SSH_COMMAND", "SSH_AUTH_SOCK"} {
		_, ok := env[k]
		assert.False(t, ok, "%s should be removed", k)
	}
	assert.Equal(t, "/p/etc/tls/cert.pem", env["SSL_CERT_FILE"])
}

func TestBuild_CallerOverridesWin(t *testing.T) {
	c := Config{
		Prefix:      "/p",
		RemovedVars: []string{"LD_LIBRARY_PATH", "LANG"},
		ExtraVars:   map[string]string{"SSL_CERT_FILE": "/custom.pem", "GIT_SSH": "plink", "LANG": "en_US.UTF-8"},
	}
	env := Build(c, map[string]string{"LANG": "C"})

	_, ok := env["LD_LIBRARY_PATH"]
	assert.False(t, ok)
	assert.Equal(t, "/custom.pem", env["SSL_CERT_FILE"])
	assert.Equal(t, "plink", env["GIT_SSH"])
	assert.Equal(t, "en_US.UTF-8", env["LANG"], "extra vars apply after removal")
}

func TestBuild_DoesNotMutateInputs(t *testing.T) {
	inherited := map[string]string{"SSL_CERT_DIR": "/etc/ssl", "PATH": "/bin"}
	c := Config{Prefix: "/p", ExtraPaths: []string{"/x"}}
	_ = Build(c, inherited)

	assert.Equal(t, map[string]string{"SSL_CERT_DIR": "/etc/ssl", "PATH": "/bin"}, inherited)
	assert.Equal(t, []string{"/x"}, c.ExtraPaths)
}

func TestStandard(t *testing.T) {
	c := Standard("/p", "/h", "/t")
	env := Build(c, map[string]string{"PATH": "/bin"})

	assert.Equal(t, "/p/bin:/p/libexec/git-core:/bin", env["PATH"])
	assert.Equal(t, NodeIPv4First, env["NODE_OPTIONS"])
}

func TestFromRuntime(t *testing.T) {
	rc := config.RuntimeConfig{
		Prefix:     "/p",
		Home:       "/h",
		TmpDir:     "/t",
		ExtraPaths: []string{"/opt/bin"},
		ExtraEnv:   map[string]string{"NODE_OPTIONS": "--max-old-space-size=256"},
		RemoveEnv:  []string{"LANG"},
	}
	c := FromRuntime(rc)

	assert.Equal(t, []string{"/p/libexec/git-core", "/opt/bin"}, c.ExtraPaths)
	assert.Equal(t, "--max-old-space-size=256", c.ExtraVars["NODE_OPTIONS"])
	assert.Equal(t, []string{"LANG"}, c.RemovedVars)
}

func TestParseAndEnviron(t *testing.T) {
	m := Parse([]string{"A=1", "B=x=y", "junk", "=nokey", "A=2"})
	require.Len(t, m, 2)
	assert.Equal(t, "2", m["A"])
	assert.Equal(t, "x=y", m["B"])

	assert.Equal(t, []string{"A=2", "B=x=y"}, Environ(m))
}
