// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type (
	// Display is the user-facing message sink. It is separate from the
	// logger: every message shown here is meant for the person running the
	// command.
	Display interface {
		Info(msg string)
		Warn(msg string)
		Error(msg string)
	}

	// TerminalDisplay writes info to out, warnings and errors to errOut,
	// styled for the terminal each writer is attached to.
	TerminalDisplay struct {
		out, errOut io.Writer
		warn, err   lipgloss.Style
		mu          sync.Mutex
	}

	// Level tags a recorded message.
	Level string

	// Message is one line recorded by BufferDisplay.
	Message struct {
		Level Level
		Text  string
	}

	// BufferDisplay records messages in memory.
	BufferDisplay struct {
		mu       sync.Mutex
		messages []Message
	}
)

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	warnPrefix  = "[WARNING]: "
	errorPrefix = "ERROR! "
)

// NewTerminalDisplay returns a Display over out and errOut.
func NewTerminalDisplay(out, errOut io.Writer) *TerminalDisplay {
	r := lipgloss.NewRenderer(errOut)
	return &TerminalDisplay{
		out:    out,
		errOut: errOut,
		warn:   r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		err:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
	}
}

func (d *TerminalDisplay) Info(msg string) {
	d.write(d.out, msg)
}

func (d *TerminalDisplay) Warn(msg string) {
	d.write(d.errOut, d.warn.Render(warnPrefix+msg))
}

func (d *TerminalDisplay) Error(msg string) {
	d.write(d.errOut, d.err.Render(errorPrefix+msg))
}

func (d *TerminalDisplay) write(w io.Writer, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = fmt.Fprintln(w, msg) // terminal output is best-effort
}

func (b *BufferDisplay) Info(msg string)  { b.add(LevelInfo, msg) }
func (b *BufferDisplay) Warn(msg string)  { b.add(LevelWarn, msg) }
func (b *BufferDisplay) Error(msg string) { b.add(LevelError, msg) }

func (b *BufferDisplay) add(l Level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, Message{Level: l, Text: msg})
}

// Messages returns a copy of everything recorded so far.
func (b *BufferDisplay) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Texts returns the recorded messages of level l.
func (b *BufferDisplay) Texts(l Level) []string {
	var out []string
	for _, m := range b.Messages() {
		if m.Level == l {
			out = append(out, m.Text)
		}
	}
	return out
}

// Contains reports whether a message of level l contains substr.
func (b *BufferDisplay) Contains(l Level, substr string) bool {
	for _, t := range b.Texts(l) {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}
