package activity

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// shellNames are interactive shells that stay resident after their foreground
// job exits. Matched against the basename of the first argv token.
var shellNames = map[string]struct{}{
	"bash": {},
	"sh":   {},
	"zsh":  {},
	"dash": {},
	"ash":  {},
	"fish": {},
}

// supervisorSignatures are environment runners and multiplexer plumbing that
// persist without representing work. Matched as case-sensitive substrings of
// the joined command line.
var supervisorSignatures = []string{
	"pixi shell",
	"conda run",
	"mamba run",
	"uv run",
	"poetry run",
	"uv shell",
	"conda shell",
	"mamba shell",
	"tmux new-session -d -s", // server start
	"tmux attach",            // client
	"/usr/bin/tmux server",
}

// IsWrapper reports whether cmdline names a persistent supervisor process.
// An empty command line is never a wrapper.
func IsWrapper(cmdline []string) bool {
	if len(cmdline) == 0 || cmdline[0] == "" {
		return false
	}

	// Login shells carry a leading dash in argv[0] ("-bash").
	program := strings.TrimPrefix(filepath.Base(cmdline[0]), "-")
	if _, ok := shellNames[program]; ok {
		return true
	}

	joined := strings.Join(cmdline, " ")
	for _, sig := range supervisorSignatures {
		if strings.Contains(joined, sig) {
			return true
		}
	}
	return false
}

// WrapperSignatures returns a copy of the supervisor signature table.
func WrapperSignatures() []string {
	out := make([]string, len(supervisorSignatures))
	copy(out, supervisorSignatures)
	return out
}

// WrapperShells returns the shell basenames treated as wrappers, sorted.
func WrapperShells() []string {
	return slices.Sorted(maps.Keys(shellNames))
}
