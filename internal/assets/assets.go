// Package assets bundles files that are copied into the runtime before use.
package assets

import _ "embed"

// InstallScript is the bundled installer. It speaks the KIMICLAW_* sentinel
// protocol on stdout.
//
//go:embed install.sh
var InstallScript []byte
