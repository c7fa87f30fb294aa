package espnet

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDeadlineChanged = errors.New("deadline changed")

// deadline is a net.Conn style deadline that can be changed while an
// operation waits for it.
type deadline struct {
	mu      sync.Mutex
	t       time.Time
	changed chan struct{}
}

func (dl *deadline) set(t time.Time) {
	dl.mu.Lock()
	dl.t = t
	if dl.changed != nil {
		close(dl.changed)
		dl.changed = nil
	}
	dl.mu.Unlock()
}

// context returns a context that is done when the current deadline expires
// or when the deadline is changed. In the latter case its cause is
// errDeadlineChanged.
func (dl *deadline) context() (context.Context, context.CancelFunc) {
	dl.mu.Lock()
	t := dl.t
	if dl.changed == nil {
		dl.changed = make(chan struct{})
	}
	changed := dl.changed
	dl.mu.Unlock()

	ctx, cancel := context.WithCancelCause(context.Background())
	stop := func() {}
	if !t.IsZero() {
		ctx, stop = context.WithDeadline(ctx, t)
	}
	go func() {
		select {
		case <-changed:
			cancel(errDeadlineChanged)
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func deadlineChanged(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errDeadlineChanged)
}
