package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter routes stdlib log.Printf output into slog. A leading
// "[TAG] " prefix becomes the component attribute.
type BridgeWriter struct {
	logger    *slog.Logger
	component string
}

// NewBridgeWriter creates a writer that forwards each write as one record.
// defaultComponent applies when a line has no [TAG] prefix.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{logger: Logger(), component: defaultComponent}
}

// Write implements io.Writer.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}
	msg = stripLogTimestamp(msg)

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = canonicalComponent(strings.ToLower(msg[1:idx]))
			msg = msg[idx+2:]
		}
	}

	bw.logger.Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp drops the "15:04:05 " or "15:04:05.000000 " prefix the
// stdlib logger adds; slog stamps its own time.
func stripLogTimestamp(s string) string {
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

func canonicalComponent(tag string) string {
	switch tag {
	case "probe", "idle", "check-idle":
		return CompProbe
	case "sync", "synchronizer", "prompt":
		return CompSync
	case "tmux", "pane":
		return CompTmux
	case "docker", "container":
		return CompDocker
	case "transcript", "log":
		return CompTranscript
	case "history", "statedb":
		return CompHistory
	default:
		return tag
	}
}
