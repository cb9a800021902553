package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)

	notice := entities.Notice{Level: entities.NoticeSuccess, Message: "Task added successfully!"}
	hub.Notify(ctx, notice)

	assert.Equal(t, notice, <-a)
	assert.Equal(t, notice, <-b)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx)
	hub.Notify(ctx, entities.Notice{Message: "first"})
	hub.Notify(ctx, entities.Notice{Message: "second"})

	assert.Equal(t, "first", (<-ch).Message)
	select {
	case n := <-ch:
		t.Fatalf("unexpected notice %q", n.Message)
	default:
	}
}

func TestHubClosesOnCancel(t *testing.T) {
	hub := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

type recorder struct {
	notices []entities.Notice
}

func (r *recorder) Notify(ctx context.Context, n entities.Notice) {
	r.notices = append(r.notices, n)
}

func TestMultiFansOut(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	m := Multi{first, nil, second, NewLogNotifier(logger.NewNop())}

	m.Notify(context.Background(), entities.Notice{Level: entities.NoticeInfo, Message: "Task deleted"})

	require.Len(t, first.notices, 1)
	require.Len(t, second.notices, 1)
	assert.Equal(t, "Task deleted", second.notices[0].Message)
}
