package checkout

import (
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level   Level
	Message string
	Code    string
	At      time.Time
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// notificationLog keeps the most recent notifications of a session.
type notificationLog struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func newNotificationLog(limit int) *notificationLog {
	if limit <= 0 {
		limit = 20
	}
	return &notificationLog{limit: limit}
}

func (l *notificationLog) Notify(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == l.limit {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, n)
}

func (l *notificationLog) List() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out
}
