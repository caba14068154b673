package recovery

import (
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

// Log keeps the most recent committed deltas of one room in version order.
// It is owned by the room's writer goroutine and is not safe for concurrent
// use.
type Log struct {
	buf   []engine.Delta
	start int // index of the oldest entry
	n     int
}

func NewLog(size int) *Log {
	if size < 1 {
		size = 1
	}
	return &Log{buf: make([]engine.Delta, size)}
}

// Append records d. A delta that does not directly follow the newest entry
// restarts the log, so Since never returns a sequence with holes.
func (l *Log) Append(d engine.Delta) {
	if l.n > 0 && d.Version != l.newest().Version+1 {
		l.Reset()
	}
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = d
		l.n++
		return
	}
	l.buf[l.start] = d
	l.start = (l.start + 1) % len(l.buf)
}

func (l *Log) Reset() {
	clear(l.buf)
	l.start, l.n = 0, 0
}

func (l *Log) Len() int { return l.n }

// Since returns every delta newer than version, oldest first. ok is false
// when the log no longer holds the delta right after version.
func (l *Log) Since(version int) (deltas []engine.Delta, ok bool) {
	if l.n == 0 {
		return nil, false
	}
	oldest := l.at(0).Version
	newest := l.newest().Version
	switch {
	case version >= newest:
		return nil, version == newest
	case version+1 < oldest:
		return nil, false
	}
	for i := version + 1 - oldest; i < l.n; i++ {
		deltas = append(deltas, l.at(i))
	}
	return deltas, true
}

func (l *Log) at(i int) engine.Delta { return l.buf[(l.start+i)%len(l.buf)] }

func (l *Log) newest() engine.Delta { return l.at(l.n - 1) }
