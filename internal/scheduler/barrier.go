package scheduler

import (
	"context"
	"sort"
	"sync"
)

// Barrier 依赖就绪屏障。每个依赖初始化完成后调用 Ready，全部就绪后 Wait 返回。
type Barrier struct {
	mu      sync.Mutex
	pending map[string]struct{}
	done    chan struct{}
}

func NewBarrier(names ...string) *Barrier {
	b := &Barrier{
		pending: make(map[string]struct{}, len(names)),
		done:    make(chan struct{}),
	}
	for _, n := range names {
		b.pending[n] = struct{}{}
	}
	if len(b.pending) == 0 {
		close(b.done)
	}
	return b
}

// Ready marks name as initialized. Unknown or repeated names are ignored.
func (b *Barrier) Ready(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[name]; !ok {
		return
	}
	delete(b.pending, name)
	if len(b.pending) == 0 {
		close(b.done)
	}
}

func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Barrier) IsReady() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Pending lists the dependencies still outstanding, sorted.
func (b *Barrier) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.pending))
	for n := range b.pending {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
