package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if w exposes Fd() and that fd is a terminal.
// Plain writers such as *bytes.Buffer are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// Spinner shows an animated indicator while a package is being checked.
// Example: /  Checking gatenet (28s remaining)
type Spinner struct {
	message   string
	running   bool
	frames    []string
	mu        sync.Mutex
	writer    io.Writer
	ticker    *time.Ticker
	done      chan struct{}
	timeout   time.Duration
	startTime time.Time
	timed     bool
	width     int // widest line drawn, for clearing
}

// NewSpinner creates a spinner writing to stderr, so that piped stdout
// only carries result lines.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
		writer:  os.Stderr,
	}
}

// WithTimeout makes the spinner show the time left before timeout, or the
// elapsed time when timeout is zero. Call it before Start.
func (s *Spinner) WithTimeout(timeout time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	s.timed = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation. On a non-TTY writer nothing is drawn at all;
// the caller's result line is the only output.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTime = time.Now()

	if !writerIsTTY(s.writer) {
		return
	}

	s.done = make(chan struct{})
	s.ticker = time.NewTicker(100 * time.Millisecond)
	ticker, done := s.ticker, s.done

	go func() {
		idx := 0
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				line := s.frames[idx] + "  " + s.formatMessage()
				if len(line) > s.width {
					s.width = len(line)
				}
				fmt.Fprintf(s.writer, "\r%s", line)
				idx = (idx + 1) % len(s.frames)
				s.mu.Unlock()

			case <-done:
				return
			}
		}
	}()
}

// formatMessage must be called with the lock held.
func (s *Spinner) formatMessage() string {
	if !s.timed {
		return s.message
	}
	elapsed := time.Since(s.startTime)
	if s.timeout > 0 {
		remaining := s.timeout - elapsed
		if remaining < 0 {
			remaining = 0
		}
		// Round up so a fresh spinner shows the full timeout.
		return fmt.Sprintf("%s (%ds remaining)", s.message, int(math.Ceil(remaining.Seconds())))
	}
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(elapsed.Seconds()))
}

// UpdateMessage replaces the message while the spinner runs.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop halts the animation and clears the line. Stop is idempotent.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
	}

	// \r only overwrites on a terminal.
	if writerIsTTY(s.writer) && s.width > 0 {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", s.width))
		s.width = 0
	}
}
