package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

// Logger is a tiny opt-in logger used across internal packages.
// When Writer is nil, logging is disabled.
//
// The output format is:
//
//	<ColoredPrefix> <SubjectKey>=<subject> <formattedMessage>\n
//
// where <subject> is trimmed and defaults to "(unknown)". SubjectKey
// defaults to "split".
type Logger struct {
	Writer io.Writer

	PrefixText  string
	PrefixColor string
	SubjectKey  string

	// OmitSubject drops the subject field entirely.
	OmitSubject bool

	mu sync.Mutex
}

func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Writer = w
}

func (l *Logger) Enabled() bool { return l != nil && l.Writer != nil }

// Logf writes one line. Loader workers log concurrently, so writes are
// serialized.
func (l *Logger) Logf(subject string, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Writer == nil {
		return
	}
	prefix := l.PrefixText
	if prefix == "" {
		prefix = "Log:"
	}
	if l.PrefixColor != "" {
		prefix = ui.Color(prefix, l.PrefixColor)
	}
	msg := fmt.Sprintf(format, args...)
	if l.OmitSubject {
		fmt.Fprintf(l.Writer, "%s %s\n", prefix, msg)
		return
	}

	key := l.SubjectKey
	if key == "" {
		key = "split"
	}
	s := strings.TrimSpace(subject)
	if s == "" {
		s = "(unknown)"
	}
	fmt.Fprintf(l.Writer, "%s %s=%s %s\n", prefix, key, s, msg)
}
