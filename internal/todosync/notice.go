package todosync

import (
	"sync"

	"go.uber.org/zap"
)

// Severity tells the UI how long to keep a notice on screen.
type Severity int

const (
	// Transient notices describe one failed action and can be dismissed.
	Transient Severity = iota
	// Persistent notices describe a lasting degraded state.
	Persistent
)

func (s Severity) String() string {
	if s == Persistent {
		return "persistent"
	}
	return "transient"
}

// DegradedMessage is shown while realtime updates are unavailable.
const DegradedMessage = "Realtime connection lost: updates may be delayed"

// Notice is a user-visible message.
type Notice struct {
	Severity Severity
	Message  string
	Err      error
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// noticeQueue buffers notices for a UI that polls them. When the UI is slower
// than the producers the oldest transient notices are dropped.
type noticeQueue struct {
	log *zap.Logger
	ch  chan Notice

	mu       sync.Mutex
	degraded *Notice
}

const noticeBuffer = 32

func newNoticeQueue(log *zap.Logger) *noticeQueue {
	return &noticeQueue{log: log, ch: make(chan Notice, noticeBuffer)}
}

func (q *noticeQueue) Notify(n Notice) {
	fields := []zap.Field{zap.Stringer("severity", n.Severity), zap.String("message", n.Message)}
	if n.Err != nil {
		fields = append(fields, zap.Error(n.Err))
	}
	q.log.Info("notice", fields...)

	if n.Severity == Persistent {
		q.mu.Lock()
		q.degraded = &n
		q.mu.Unlock()
	}
	for {
		select {
		case q.ch <- n:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

func (q *noticeQueue) current() (Notice, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded == nil {
		return Notice{}, false
	}
	return *q.degraded, true
}
