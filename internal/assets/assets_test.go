package assets

import (
	"strings"
	"testing"
)

func TestInstallScriptSpeaksSentinelProtocol(t *testing.T) {
	s := string(InstallScript)
	if !strings.HasPrefix(s, "#!") {
		t.Fatalf("install script must start with a shebang")
	}
	for _, marker := range []string{"KIMICLAW_COMPLETE", "KIMICLAW_ALREADY_INSTALLED", "KIMICLAW_ERROR:"} {
		if !strings.Contains(s, marker) {
			t.Errorf("install script does not emit %s", marker)
		}
	}
}
