// Package notify delivers advisory notices to logs and live observers.
package notify

import (
	"context"
	"sync"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// LogNotifier writes notices to the application log
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a notifier backed by log
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("notice")}
}

func (n *LogNotifier) Notify(ctx context.Context, notice entities.Notice) {
	switch notice.Level {
	case entities.NoticeError:
		n.logger.Warnw(notice.Message, "level", notice.Level)
	default:
		n.logger.Infow(notice.Message, "level", notice.Level)
	}
}

// Hub fans notices out to subscribers. Subscribers that fall behind drop
// notices rather than block the sender.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan entities.Notice]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold up to buffer notices
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[chan entities.Notice]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) Notify(ctx context.Context, notice entities.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

// Subscribe returns a channel of notices that is closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan entities.Notice {
	ch := make(chan entities.Notice, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Multi sends every notice to each notifier in order
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, notice entities.Notice) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, notice)
		}
	}
}

var (
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = (*Hub)(nil)
	_ ports.Notifier = Multi(nil)
)
