package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Executor runs one command to completion. *Synchronizer implements it.
type Executor interface {
	Execute(ctx context.Context, command string) (*Result, error)
}

// Outcome is how an operator loop ended.
type Outcome int

const (
	// OutcomeExit means the operator typed exit; the environment should be
	// torn down.
	OutcomeExit Outcome = iota
	// OutcomeEOF means input ended; the environment is left running.
	OutcomeEOF
)

// ExitCommand ends the loop (case-insensitive).
const ExitCommand = "exit"

// Operator feeds lines from an input stream to an Executor, one command
// at a time.
type Operator struct {
	in     io.Reader
	out    io.Writer
	prompt string
}

// NewOperator creates a loop over in. prompt is printed before each read
// when non-empty (interactive terminals only).
func NewOperator(in io.Reader, out io.Writer, prompt string) *Operator {
	return &Operator{in: in, out: out, prompt: prompt}
}

type inputLine struct {
	text string
	err  error
}

// Run reads and executes commands until exit, EOF, an executor error or
// context cancellation. Blank lines are ignored.
func (o *Operator) Run(ctx context.Context, exec Executor) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan inputLine)
	next := make(chan struct{})
	go o.readLines(ctx, lines, next)

	for {
		if o.prompt != "" {
			fmt.Fprint(o.out, o.prompt)
		}
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return OutcomeEOF, ctx.Err()
		}

		var line inputLine
		select {
		case line = <-lines:
		case <-ctx.Done():
			return OutcomeEOF, ctx.Err()
		}

		text := strings.TrimRight(line.text, "\r\n")
		if text != "" {
			if strings.EqualFold(strings.TrimSpace(text), ExitCommand) {
				return OutcomeExit, nil
			}
			if strings.TrimSpace(text) != "" {
				if _, err := exec.Execute(ctx, text); err != nil {
					return OutcomeEOF, err
				}
			}
		}

		if line.err != nil {
			if errors.Is(line.err, io.EOF) {
				syncLog.Info("input_closed")
				return OutcomeEOF, nil
			}
			return OutcomeEOF, fmt.Errorf("reading input: %w", line.err)
		}
	}
}

// readLines reads one line per request on next, so nothing is consumed
// from the input while a command is executing.
func (o *Operator) readLines(ctx context.Context, lines chan<- inputLine, next <-chan struct{}) {
	r := bufio.NewReader(o.in)
	for {
		select {
		case <-next:
		case <-ctx.Done():
			return
		}
		text, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			syncLog.Debug("input_read_error", slog.String("error", err.Error()))
		}
		select {
		case lines <- inputLine{text: text, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
