// Package variables maps session-scoped numeric handles to live engine values
// so the wire protocol never carries engine references.
package variables

import (
	"sync"
	"sync/atomic"

	"github.com/fansqz/debug-session/debugger"
	"github.com/samber/lo"
)

// Context is the thread and frame a value was read in. Children are
// registered under their parent's context.
type Context struct {
	ThreadID   int64
	FrameIndex uint32
}

type entry struct {
	ctx   Context
	value debugger.Value
}

// Registry 变量句柄注册表，并发安全
type Registry struct {
	mu      sync.Mutex
	next    atomic.Uint64
	entries map[uint64]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[uint64]entry{}}
}

// nextID never returns 0; on wrap-around 0 is skipped.
func (r *Registry) nextID() uint64 {
	for {
		if id := r.next.Add(1); id != 0 {
			return id
		}
	}
}

// Allocate registers value and returns its handle, or 0 when value is nil
// or already invalid.
func (r *Registry) Allocate(ctx Context, value debugger.Value) uint64 {
	if debugger.Check(value) != nil {
		return 0
	}
	id := r.nextID()
	r.mu.Lock()
	r.entries[id] = entry{ctx: ctx, value: value}
	r.mu.Unlock()
	return id
}

// Resolve returns the value for id. A handle whose value is no longer valid
// is removed and reported as not found.
func (r *Registry) Resolve(id uint64) (debugger.Value, Context, bool) {
	r.mu.Lock()
	en, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, Context{}, false
	}
	if debugger.Check(en.value) != nil {
		r.mu.Lock()
		if cur, ok := r.entries[id]; ok && cur.value == en.value {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return nil, Context{}, false
	}
	return en.value, en.ctx, true
}

// SweepInvalid drops every handle whose value went stale and returns how
// many were dropped.
func (r *Registry) SweepInvalid() int {
	r.mu.Lock()
	snapshot := lo.MapToSlice(r.entries, func(id uint64, en entry) lo.Tuple2[uint64, debugger.Value] {
		return lo.T2(id, en.value)
	})
	r.mu.Unlock()

	stale := lo.FilterMap(snapshot, func(t lo.Tuple2[uint64, debugger.Value], _ int) (uint64, bool) {
		return t.A, debugger.Check(t.B) != nil
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range stale {
		delete(r.entries, id)
	}
	return len(stale)
}

// Clear 会话结束时清空全部句柄
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[uint64]entry{}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
