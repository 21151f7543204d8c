package control

import (
	"context"
	"errors"
	"sync"

	"github.com/amirphl/breakout-trader/internal/notifier"
)

var ErrQueueFull = errors.New("command queue full")

// Queue is a CommandSource fed by push: the Telegram webhook endpoint or the
// operator HTTP endpoint. Only one of the two feeds a given queue, since
// directly submitted commands are numbered after the last id seen.
type Queue struct {
	mu      sync.Mutex
	pending []notifier.Command
	last    int64
	limit   int
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 64
	}
	return &Queue{limit: limit}
}

// Push enqueues a command that already carries an id.
func (q *Queue) Push(c notifier.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.limit {
		return ErrQueueFull
	}
	q.pending = append(q.pending, c)
	if c.ID > q.last {
		q.last = c.ID
	}
	return nil
}

// Submit enqueues text under the next id and returns it.
func (q *Queue) Submit(sender, text string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.limit {
		return 0, ErrQueueFull
	}
	q.last++
	q.pending = append(q.pending, notifier.Command{ID: q.last, SenderID: sender, Text: text})
	return q.last, nil
}

// Poll drains the queue. Commands at or below cursor are discarded.
func (q *Queue) Poll(ctx context.Context, cursor int64) ([]notifier.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []notifier.Command
	for _, c := range q.pending {
		if c.ID > cursor {
			out = append(out, c)
		}
	}
	q.pending = q.pending[:0]
	if cursor > q.last {
		q.last = cursor
	}
	return out, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
