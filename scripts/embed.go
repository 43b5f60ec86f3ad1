// Package scripts embeds the Risor scripts serpent ships as default
// implementations of External functions. A scripts directory given on the
// command line replaces them.
package scripts

import "embed"

// FS holds <function>.risor files at its root.
//
//go:embed *.risor
var FS embed.FS
