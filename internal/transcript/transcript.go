// Package transcript appends per-command records of captured pane output to
// a raw log (escape sequences kept) and a clean log (escape sequences
// stripped).
package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/envagent/internal/logging"
	"github.com/asheshgoplani/envagent/internal/tmux"
)

var transcriptLog = logging.ForComponent(logging.CompTranscript)

// TimestampLayout formats the SESSION START line.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	delimiter          = "======================================================"
	sessionStartPrefix = "SESSION START: "
	commandPrefix      = "COMMAND EXECUTED: "
	cleanSuffix        = " (CLEANED)"
)

// Record is one finished command.
type Record struct {
	Command string
	// Output is the full pane capture with escape sequences intact.
	Output string
	Time   time.Time
}

// Sink appends records to the raw and clean transcript files. Files are
// opened per record in append mode, so external tail -f and log rotation
// keep working.
type Sink struct {
	rawPath   string
	cleanPath string
	mu        sync.Mutex
}

// NewSink creates a sink writing to rawPath and cleanPath. Parent
// directories are created on first write.
func NewSink(rawPath, cleanPath string) *Sink {
	return &Sink{rawPath: rawPath, cleanPath: cleanPath}
}

// RawPath returns the raw transcript path.
func (s *Sink) RawPath() string { return s.rawPath }

// CleanPath returns the clean transcript path.
func (s *Sink) CleanPath() string { return s.cleanPath }

// Append writes rec to both files, raw first.
func (s *Sink) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendFile(s.rawPath, Format(rec, false)); err != nil {
		return fmt.Errorf("writing raw transcript: %w", err)
	}
	if err := appendFile(s.cleanPath, Format(rec, true)); err != nil {
		return fmt.Errorf("writing clean transcript: %w", err)
	}
	transcriptLog.Debug("record_appended",
		slog.String("command", rec.Command),
		slog.Int("bytes", len(rec.Output)))
	return nil
}

// Format renders a record. With clean set, the header is tagged and the
// output has its escape sequences removed.
func Format(rec Record, clean bool) []byte {
	command := rec.Command
	output := rec.Output
	if clean {
		command += cleanSuffix
		output = tmux.StripANSI(output)
	}

	var buf bytes.Buffer
	buf.WriteString("\n\n")
	buf.WriteString(delimiter + "\n")
	buf.WriteString(sessionStartPrefix + rec.Time.Format(TimestampLayout) + "\n")
	buf.WriteString(commandPrefix + command + "\n")
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(output)
	buf.WriteString("\n")
	return buf.Bytes()
}

func appendFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Header is the SESSION START / COMMAND EXECUTED pair framing a record.
type Header struct {
	Time    time.Time
	Command string
}

// ReadHeaders returns the record headers of a raw or clean transcript file
// in order, with the clean-file tag removed.
func ReadHeaders(path string) ([]Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	defer f.Close()
	return ParseHeaders(f)
}

// ParseHeaders scans a transcript for record headers, skipping captured
// output. A COMMAND EXECUTED line only counts right after a parseable
// SESSION START line, so output that happens to contain the text is ignored.
func ParseHeaders(r io.Reader) ([]Header, error) {
	var (
		headers []Header
		when    time.Time
		haveTS  bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ts, ok := strings.CutPrefix(line, sessionStartPrefix); ok {
			t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(ts), time.Local)
			when, haveTS = t, err == nil
			continue
		}
		if cmd, ok := strings.CutPrefix(line, commandPrefix); ok && haveTS {
			headers = append(headers, Header{
				Time:    when,
				Command: strings.TrimSuffix(cmd, cleanSuffix),
			})
		}
		haveTS = false
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return headers, nil
}
