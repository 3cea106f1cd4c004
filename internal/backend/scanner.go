package backend

import (
	"regexp"
	"strconv"
	"strings"
)

// PortScanner discovers the backend's bound port by matching a pattern
// against the process output. Output arrives in arbitrary chunks, so the
// scanner accumulates everything seen during the attempt and matches
// against the concatenation; an announcement split across two chunks is
// still found.
//
// A scanner resolves at most once. After the first match, the buffer is
// released and further chunks are ignored. Scanners are not safe for
// concurrent use; the supervisor feeds them under its own lock. Each
// launch attempt gets a fresh scanner so stale output from a previous
// process can never satisfy a new attempt.
type PortScanner struct {
	pattern  *regexp.Regexp
	buf      strings.Builder
	resolved bool
	port     int
}

// NewPortScanner creates a scanner for one launch attempt. The pattern's
// first capture group must be the port digits.
func NewPortScanner(pattern *regexp.Regexp) *PortScanner {
	return &PortScanner{pattern: pattern}
}

// Feed appends a chunk of process output and reports whether the port was
// discovered by this chunk. After the scanner has resolved, Feed always
// returns false.
func (s *PortScanner) Feed(chunk string) (port int, found bool) {
	if s.resolved {
		return 0, false
	}

	s.buf.WriteString(chunk)
	text := s.buf.String()

	for {
		m := s.pattern.FindStringSubmatchIndex(text)
		if m == nil || len(m) < 4 || m[2] < 0 {
			return 0, false
		}

		p, err := strconv.Atoi(text[m[2]:m[3]])
		if err == nil {
			s.resolved = true
			s.port = p
			s.buf.Reset()
			return p, true
		}

		// Capture group matched something that is not a valid integer
		// (e.g., a digit run exceeding the int range). Discard through
		// the failed match so it cannot shadow a later announcement.
		text = text[m[1]:]
		s.buf.Reset()
		s.buf.WriteString(text)
	}
}

// Resolved reports whether the scanner has already discovered a port.
func (s *PortScanner) Resolved() bool {
	return s.resolved
}

// Port returns the discovered port, or 0 if the scanner has not resolved.
func (s *PortScanner) Port() int {
	return s.port
}
