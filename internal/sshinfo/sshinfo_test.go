package sshinfo

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo_Rendering(t *testing.T) {
	i := Info{Host: "192.168.1.20", Port: DefaultPort, Password: "s3cret"}
	assert.Equal(t, "ssh -p 8022 192.168.1.20", i.ConnectionString())
	assert.Equal(t, "ssh -p 8022 192.168.1.20\nPassword: s3cret", i.String())

	i.Password = ""
	assert.Equal(t, "ssh -p 8022 192.168.1.20\nPassword: <not set>", i.String())
}

func TestReadPassword(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	pw, err := ReadPassword(write("ok", "  hunter2 \nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	_, err = ReadPassword(write("blank", "   \nhunter2\n"))
	assert.Error(t, err)

	_, err = ReadPassword(write("empty", ""))
	assert.Error(t, err)

	_, err = ReadPassword(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFirstIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPAddr{IP: net.ParseIP("10.0.0.7")},
		&net.IPNet{IP: net.ParseIP("10.0.0.8"), Mask: net.CIDRMask(24, 32)},
	}
	assert.Equal(t, "10.0.0.7", firstIPv4(addrs))
	assert.Empty(t, firstIPv4(addrs[:2]))
}

func TestDiscover_ReadsPasswordFromHomeWithoutWriting(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, PasswordFile), []byte("pw\n"), 0o600))

	info := Discover(home, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, DefaultPort, info.Port)
	assert.Equal(t, "pw", info.Password)
	assert.NotEmpty(t, info.Host)

	entries, err := os.ReadDir(home)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
