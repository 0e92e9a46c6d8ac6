package supervisor

import (
	"io"
	"strings"
	"sync"
)

// hostKeyScanner watches a byte stream for configured prompt patterns and
// writes an automatic response exactly once (spec §4.A: "On the first
// match only"). It is only wired in when a pty is in use; with pipe I/O
// there is no interactive terminal for the child to prompt on, so the
// scanner is never constructed.
type hostKeyScanner struct {
	patterns []string
	writer   io.Writer
	onMatch  func()

	mu        sync.Mutex
	responded bool
	tail      strings.Builder // small rolling buffer so a pattern split across reads still matches
}

const hostKeyTailLimit = 256

func newHostKeyScanner(patterns []string, writer io.Writer, onMatch func()) *hostKeyScanner {
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &hostKeyScanner{patterns: lowered, writer: writer, onMatch: onMatch}
}

// Observe feeds newly-read bytes to the scanner. Safe for concurrent use
// with itself, though in practice it is only ever called from the single
// pty-reading goroutine.
func (s *hostKeyScanner) Observe(chunk []byte) {
	if s == nil || len(s.patterns) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responded {
		return
	}

	s.tail.Write(chunk)
	window := s.tail.String()
	if len(window) > hostKeyTailLimit {
		window = window[len(window)-hostKeyTailLimit:]
		s.tail.Reset()
		s.tail.WriteString(window)
	}

	lowerWindow := strings.ToLower(window)
	for _, p := range s.patterns {
		if strings.Contains(lowerWindow, p) {
			s.responded = true
			_, _ = io.WriteString(s.writer, "yes\r")
			if s.onMatch != nil {
				s.onMatch()
			}
			return
		}
	}
}
