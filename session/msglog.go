package session

import (
	"fmt"
	"strings"
	"sync"
)

// MessageLog is the session's append-only diagnostic trail. Appends are
// safe under concurrent writers.
type MessageLog struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *MessageLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.b.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		l.b.WriteByte('\n')
	}
}

func (l *MessageLog) Appendf(format string, args ...any) {
	l.Append(fmt.Sprintf(format, args...))
}

func (l *MessageLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func (l *MessageLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.b.Reset()
}
