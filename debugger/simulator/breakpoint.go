package simulator

import (
	"github.com/fansqz/debug-session/debugger"
	"github.com/samber/lo"
)

// Breakpoint implements debugger.Breakpoint.
type Breakpoint struct {
	target    *Target
	id        int64
	spec      string
	locations []debugger.BreakpointLocation
	deleted   bool

	enabled     bool
	condition   string
	ignoreCount uint32
	threadID    int64
	oneShot     bool
	hits        uint32
}

func (bp *Breakpoint) lock() func() {
	bp.target.engine.mu.Lock()
	return bp.target.engine.mu.Unlock
}

func (bp *Breakpoint) IsValid() bool {
	defer bp.lock()()
	return !bp.deleted && bp.target.valid
}

func (bp *Breakpoint) ID() int64 { return bp.id }

func (bp *Breakpoint) Locations() []debugger.BreakpointLocation {
	defer bp.lock()()
	return append([]debugger.BreakpointLocation(nil), bp.locations...)
}

func (bp *Breakpoint) resolvedAt(address uint64) bool {
	return lo.ContainsBy(bp.locations, func(loc debugger.BreakpointLocation) bool {
		return loc.Resolved && loc.Address == address
	})
}

func (bp *Breakpoint) SetEnabled(enabled bool) {
	defer bp.lock()()
	if bp.enabled == enabled {
		return
	}
	bp.enabled = enabled
	kind := debugger.BreakpointEventDisabled
	if enabled {
		kind = debugger.BreakpointEventEnabled
	}
	bp.target.emitBreakpoint(bp.id, kind, false)
}

func (bp *Breakpoint) SetCondition(condition string) {
	defer bp.lock()()
	bp.condition = condition
	bp.target.emitBreakpoint(bp.id, debugger.BreakpointEventConditionChanged, false)
}

func (bp *Breakpoint) SetIgnoreCount(count uint32) {
	defer bp.lock()()
	bp.ignoreCount = count
}

func (bp *Breakpoint) SetThreadID(id int64) {
	defer bp.lock()()
	bp.threadID = id
}

func (bp *Breakpoint) SetOneShot(oneShot bool) {
	defer bp.lock()()
	bp.oneShot = oneShot
}

// Watchpoint implements debugger.Watchpoint.
type Watchpoint struct {
	target  *Target
	id      int64
	key     string
	address uint64
	size    uint64
	read    bool
	write   bool
	deleted bool

	enabled     bool
	condition   string
	ignoreCount uint32
	hits        uint32
}

func (wp *Watchpoint) lock() func() {
	wp.target.engine.mu.Lock()
	return wp.target.engine.mu.Unlock
}

func (wp *Watchpoint) IsValid() bool {
	defer wp.lock()()
	return !wp.deleted && wp.target.valid
}

func (wp *Watchpoint) ID() int64 { return wp.id }

func (wp *Watchpoint) WatchAddress() uint64 { return wp.address }

func (wp *Watchpoint) WatchSize() uint64 { return wp.size }

func (wp *Watchpoint) SetEnabled(enabled bool) {
	defer wp.lock()()
	wp.enabled = enabled
}

func (wp *Watchpoint) SetCondition(condition string) {
	defer wp.lock()()
	wp.condition = condition
}

func (wp *Watchpoint) SetIgnoreCount(count uint32) {
	defer wp.lock()()
	wp.ignoreCount = count
}
