// Package breakpoints keeps the session's view of every breakpoint and
// watchpoint it created in the engine.
package breakpoints

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/convert"
	"github.com/fansqz/debug-session/debugger"
	e "github.com/fansqz/debug-session/error"
	"github.com/fansqz/debug-session/protocol"
	"github.com/fansqz/debug-session/utils"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// LegacyKey indexes Line breakpoints by source position for older clients.
type LegacyKey struct {
	File string
	Line uint32
}

// Registry 断点注册表，主索引按id有序
type Registry struct {
	mu     sync.Mutex
	byID   *treemap.Map // int64 -> *protocol.Breakpoint
	// legacy 同一位置可能有多个断点，按创建顺序保存
	legacy map[LegacyKey][]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   treemap.NewWith(godsutils.Int64Comparator),
		legacy: map[LegacyKey][]int64{},
	}
}

// DetectKind picks the kind from the populated location. A request with no
// location reports Line; more than one location is ambiguous.
func DetectKind(req *protocol.AddBreakpointRequest) (constants.BreakpointKind, error) {
	var kinds []constants.BreakpointKind
	if req.Line != nil {
		kinds = append(kinds, constants.BreakpointLine)
	}
	if req.Address != nil {
		kinds = append(kinds, constants.BreakpointAddress)
	}
	if req.Function != nil {
		kinds = append(kinds, constants.BreakpointFunction)
	}
	if req.Symbol != nil {
		kinds = append(kinds, constants.BreakpointSymbol)
	}
	if req.Watch != nil {
		kinds = append(kinds, constants.BreakpointWatch)
	}
	switch len(kinds) {
	case 0:
		return constants.BreakpointLine, nil
	case 1:
		return kinds[0], nil
	}
	return "", fmt.Errorf("%w: %v", e.ErrAmbiguousBreakpoint, kinds)
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", e.ErrMissingArgument, what)
}

func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", e.ErrEngineFailure, op, err)
}

// Create makes the breakpoint in the engine and records it. Nothing is
// recorded when any step fails.
func (r *Registry) Create(target debugger.Target, req *protocol.AddBreakpointRequest) (protocol.Breakpoint, error) {
	if req == nil {
		return protocol.Breakpoint{}, missing("addBreakpoint")
	}
	kind, err := DetectKind(req)
	if err != nil {
		return protocol.Breakpoint{}, err
	}
	if debugger.Check(target) != nil {
		return protocol.Breakpoint{}, e.ErrNoTarget
	}
	if kind == constants.BreakpointWatch {
		return r.createWatch(target, req)
	}

	var bp debugger.Breakpoint
	switch kind {
	case constants.BreakpointLine:
		if req.Line == nil || req.Line.File == "" || req.Line.Line == 0 {
			return protocol.Breakpoint{}, missing("line location with file and line")
		}
		bp, err = target.CreateLineBreakpoint(req.Line.File, req.Line.Line, req.Line.Column)
	case constants.BreakpointAddress:
		bp, err = target.CreateAddressBreakpoint(req.Address.Address)
	case constants.BreakpointFunction:
		if req.Function.Name == "" {
			return protocol.Breakpoint{}, missing("function name")
		}
		bp, err = target.CreateFunctionBreakpoint(req.Function.Name)
	case constants.BreakpointSymbol:
		if req.Symbol.Pattern == "" {
			return protocol.Breakpoint{}, missing("symbol pattern")
		}
		bp, err = target.CreateSymbolBreakpoint(req.Symbol.Pattern, req.Symbol.Regex)
	}
	if err != nil {
		return protocol.Breakpoint{}, engineErr("create breakpoint", err)
	}
	if debugger.Check(bp) != nil {
		return protocol.Breakpoint{}, engineErr("create breakpoint", debugger.ErrInvalidHandle)
	}

	if req.Condition != "" {
		bp.SetCondition(req.Condition)
	}
	if req.Disabled {
		bp.SetEnabled(false)
	}
	if req.IgnoreCount > 0 {
		bp.SetIgnoreCount(req.IgnoreCount)
	}
	if req.ThreadFilter != nil {
		bp.SetThreadID(int64(*req.ThreadFilter))
	}
	if req.OneShot {
		bp.SetOneShot(true)
	}

	rec := newRecord(bp.ID(), kind, req)
	rec.Locations = convert.Locations(bp.Locations())
	out, err := r.store(rec)
	if err != nil {
		target.DeleteBreakpoint(bp.ID())
		return protocol.Breakpoint{}, err
	}
	if len(out.Locations) == 0 {
		logrus.Infof("[Breakpoints] breakpoint %d is unresolved", out.ID)
	}
	return out, nil
}

// createWatch resolves process, thread, frame and variable in turn and fails
// closed at the first missing piece.
func (r *Registry) createWatch(target debugger.Target, req *protocol.AddBreakpointRequest) (protocol.Breakpoint, error) {
	w := req.Watch
	if w.Variable == "" {
		return protocol.Breakpoint{}, missing("watch variable")
	}
	process := target.Process()
	if debugger.Check(process) != nil || !process.State().IsAlive() {
		return protocol.Breakpoint{}, e.ErrNoProcess
	}
	var thread debugger.Thread
	if w.ThreadID != 0 {
		thread = process.ThreadByID(w.ThreadID)
	} else {
		thread = process.SelectedThread()
	}
	if debugger.Check(thread) != nil {
		return protocol.Breakpoint{}, fmt.Errorf("%w: %d", e.ErrNoThread, w.ThreadID)
	}
	frame := thread.Frame(w.FrameIndex)
	if debugger.Check(frame) != nil {
		return protocol.Breakpoint{}, fmt.Errorf("%w: %d", e.ErrNoFrame, w.FrameIndex)
	}
	value := frame.FindVariable(w.Variable)
	if debugger.Check(value) != nil {
		return protocol.Breakpoint{}, fmt.Errorf("%w: %s", e.ErrVariableNotFound, w.Variable)
	}
	read, write := w.Read, w.Write
	if !read && !write {
		write = true
	}
	wp, err := value.Watch(read, write)
	if err != nil {
		return protocol.Breakpoint{}, engineErr("create watchpoint", err)
	}
	if debugger.Check(wp) != nil {
		return protocol.Breakpoint{}, engineErr("create watchpoint", debugger.ErrInvalidHandle)
	}
	if req.Condition != "" {
		wp.SetCondition(req.Condition)
	}
	if req.Disabled {
		wp.SetEnabled(false)
	}
	if req.IgnoreCount > 0 {
		wp.SetIgnoreCount(req.IgnoreCount)
	}

	rec := newRecord(wp.ID(), constants.BreakpointWatch, req)
	rec.Watch.ThreadID = thread.ID()
	rec.Watch.Read, rec.Watch.Write = read, write
	out, err := r.store(rec)
	if err != nil {
		target.DeleteWatchpoint(wp.ID())
		return protocol.Breakpoint{}, err
	}
	return out, nil
}

func newRecord(id int64, kind constants.BreakpointKind, req *protocol.AddBreakpointRequest) *protocol.Breakpoint {
	rec := &protocol.Breakpoint{
		ID:          id,
		Kind:        kind,
		Condition:   req.Condition,
		Enabled:     !req.Disabled,
		IgnoreCount: req.IgnoreCount,
		OneShot:     req.OneShot,
		Locations:   []protocol.Location{},
	}
	if req.ThreadFilter != nil {
		tf := *req.ThreadFilter
		rec.ThreadFilter = &tf
	}
	switch kind {
	case constants.BreakpointLine:
		loc := *req.Line
		rec.Line = &loc
	case constants.BreakpointAddress:
		loc := *req.Address
		rec.Address = &loc
	case constants.BreakpointFunction:
		loc := *req.Function
		rec.Function = &loc
	case constants.BreakpointSymbol:
		loc := *req.Symbol
		rec.Symbol = &loc
	case constants.BreakpointWatch:
		loc := *req.Watch
		rec.Watch = &loc
	}
	return rec
}

func copyRecord(rec *protocol.Breakpoint) protocol.Breakpoint {
	out := *rec
	out.Locations = append([]protocol.Location{}, rec.Locations...)
	return out
}

// store returns a copy taken under the lock: once published, rec is also
// written by Observe. Engine ids are unique across breakpoints and
// watchpoints; a reused id means the engine and the registry disagree.
func (r *Registry) store(rec *protocol.Breakpoint) (protocol.Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.byID.Get(rec.ID); found {
		return protocol.Breakpoint{}, fmt.Errorf("%w: engine reused breakpoint id %d", e.ErrEngineFailure, rec.ID)
	}
	r.byID.Put(rec.ID, rec)
	if rec.Kind == constants.BreakpointLine {
		key := LegacyKey{File: rec.Line.File, Line: rec.Line.Line}
		r.legacy[key] = append(r.legacy[key], rec.ID)
	}
	return copyRecord(rec), nil
}

func (r *Registry) get(id int64) (*protocol.Breakpoint, bool) {
	v, found := r.byID.Get(id)
	if !found {
		return nil, false
	}
	return v.(*protocol.Breakpoint), true
}

// drop 调用方需持有锁
func (r *Registry) drop(rec *protocol.Breakpoint) {
	r.byID.Remove(rec.ID)
	if rec.Kind == constants.BreakpointLine {
		key := LegacyKey{File: rec.Line.File, Line: rec.Line.Line}
		if ids := lo.Without(r.legacy[key], rec.ID); len(ids) > 0 {
			r.legacy[key] = ids
		} else {
			delete(r.legacy, key)
		}
	}
}

func notFound(id int64) error {
	return fmt.Errorf("%w: %d", e.ErrBreakpointNotFound, id)
}

// deleteInEngine uses the delete primitive that matches the record's kind.
func deleteInEngine(target debugger.Target, rec *protocol.Breakpoint) error {
	if debugger.Check(target) != nil {
		return e.ErrNoTarget
	}
	if rec.Kind == constants.BreakpointWatch {
		if target.DeleteWatchpoint(rec.ID) {
			return nil
		}
		if !debugger.IsNil(target.FindBreakpoint(rec.ID)) {
			return fmt.Errorf("%w: %d is not a watchpoint", e.ErrWrongDeletePrimitive, rec.ID)
		}
		return engineErr("delete watchpoint", fmt.Errorf("engine refused %d", rec.ID))
	}
	if target.DeleteBreakpoint(rec.ID) {
		return nil
	}
	if !debugger.IsNil(target.FindWatchpoint(rec.ID)) {
		return fmt.Errorf("%w: %d is a watchpoint", e.ErrWrongDeletePrimitive, rec.ID)
	}
	return engineErr("delete breakpoint", fmt.Errorf("engine refused %d", rec.ID))
}

// Remove deletes id from the engine, then from the registry. The record is
// kept when the engine delete fails.
func (r *Registry) Remove(target debugger.Target, id int64) error {
	r.mu.Lock()
	rec, ok := r.get(id)
	r.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	if err := deleteInEngine(target, rec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.get(id); ok && cur == rec {
		r.drop(rec)
	}
	return nil
}

// ClearAll tries every record and always empties the registry. Failures are
// combined into one error naming each failed id.
func (r *Registry) ClearAll(target debugger.Target) (int, error) {
	r.mu.Lock()
	recs := lo.Map(r.byID.Values(), func(v interface{}, _ int) *protocol.Breakpoint {
		return v.(*protocol.Breakpoint)
	})
	r.byID.Clear()
	r.legacy = map[LegacyKey][]int64{}
	r.mu.Unlock()

	var errs error
	for _, rec := range recs {
		if err := deleteInEngine(target, rec); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("breakpoint %d: %w", rec.ID, err))
		}
	}
	if errs != nil {
		logrus.Warnf("[Breakpoints] clear all left engine state behind: %v", errs)
	}
	return len(recs), errs
}

// engineObject 按记录类型查找引擎对象
type engineObject interface {
	SetEnabled(bool)
	SetCondition(string)
	SetIgnoreCount(uint32)
}

func (r *Registry) lookup(target debugger.Target, id int64) (*protocol.Breakpoint, engineObject, error) {
	r.mu.Lock()
	rec, ok := r.get(id)
	r.mu.Unlock()
	if !ok {
		return nil, nil, notFound(id)
	}
	if debugger.Check(target) != nil {
		return nil, nil, e.ErrNoTarget
	}
	if rec.Kind == constants.BreakpointWatch {
		wp := target.FindWatchpoint(id)
		if debugger.Check(wp) != nil {
			return nil, nil, notFound(id)
		}
		return rec, wp, nil
	}
	bp := target.FindBreakpoint(id)
	if debugger.Check(bp) != nil {
		return nil, nil, notFound(id)
	}
	return rec, bp, nil
}

func (r *Registry) update(target debugger.Target, id int64, apply func(obj engineObject, rec *protocol.Breakpoint)) (protocol.Breakpoint, error) {
	rec, obj, err := r.lookup(target, id)
	if err != nil {
		return protocol.Breakpoint{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(obj, rec)
	return copyRecord(rec), nil
}

func (r *Registry) SetEnabled(target debugger.Target, id int64, enabled bool) (protocol.Breakpoint, error) {
	return r.update(target, id, func(obj engineObject, rec *protocol.Breakpoint) {
		obj.SetEnabled(enabled)
		rec.Enabled = enabled
	})
}

func (r *Registry) SetCondition(target debugger.Target, id int64, condition string) (protocol.Breakpoint, error) {
	return r.update(target, id, func(obj engineObject, rec *protocol.Breakpoint) {
		obj.SetCondition(condition)
		rec.Condition = condition
	})
}

func (r *Registry) SetIgnoreCount(target debugger.Target, id int64, count uint32) (protocol.Breakpoint, error) {
	return r.update(target, id, func(obj engineObject, rec *protocol.Breakpoint) {
		obj.SetIgnoreCount(count)
		rec.IgnoreCount = count
	})
}

// Update applies every populated field of req.
func (r *Registry) Update(target debugger.Target, req *protocol.UpdateBreakpointRequest) (protocol.Breakpoint, error) {
	rec, err := r.update(target, req.ID, func(obj engineObject, rec *protocol.Breakpoint) {
		if req.Enabled != nil {
			obj.SetEnabled(*req.Enabled)
			rec.Enabled = *req.Enabled
		}
		if req.Condition != nil {
			obj.SetCondition(*req.Condition)
			rec.Condition = *req.Condition
		}
		if req.IgnoreCount != nil {
			obj.SetIgnoreCount(*req.IgnoreCount)
			rec.IgnoreCount = *req.IgnoreCount
		}
	})
	return rec, err
}

func (r *Registry) Get(id int64) (protocol.Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.get(id)
	if !ok {
		return protocol.Breakpoint{}, false
	}
	return copyRecord(rec), true
}

// List returns all records ordered by id.
func (r *Registry) List() []protocol.Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.byID.Values(), func(v interface{}, _ int) protocol.Breakpoint {
		return copyRecord(v.(*protocol.Breakpoint))
	})
}

// ByKind 按类型过滤，不传类型时返回全部
func (r *Registry) ByKind(kinds ...constants.BreakpointKind) []protocol.Breakpoint {
	all := r.List()
	if len(kinds) == 0 {
		return all
	}
	set := utils.List2set(kinds)
	return lo.Filter(all, func(rec protocol.Breakpoint, _ int) bool {
		return set.Contains(rec.Kind)
	})
}

// ByLegacyKey finds the oldest live Line breakpoint at a source position.
func (r *Registry) ByLegacyKey(file string, line uint32) (protocol.Breakpoint, bool) {
	all := r.AllByLegacyKey(file, line)
	if len(all) == 0 {
		return protocol.Breakpoint{}, false
	}
	return all[0], true
}

// AllByLegacyKey returns every Line breakpoint at a source position in
// creation order.
func (r *Registry) AllByLegacyKey(file string, line uint32) []protocol.Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []protocol.Breakpoint{}
	for _, id := range r.legacy[LegacyKey{File: file, Line: line}] {
		if rec, ok := r.get(id); ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID.Size()
}

// Observe applies an engine breakpoint event: removed breakpoints are
// dropped, location changes are re-read from the engine. Unknown ids are
// ignored.
func (r *Registry) Observe(target debugger.Target, id int64, kind debugger.BreakpointEventType) {
	r.mu.Lock()
	rec, ok := r.get(id)
	r.mu.Unlock()
	if !ok {
		return
	}
	switch kind {
	case debugger.BreakpointEventRemoved:
		r.mu.Lock()
		if cur, ok := r.get(id); ok && cur == rec {
			r.drop(rec)
		}
		r.mu.Unlock()
	case debugger.BreakpointEventLocationsAdded, debugger.BreakpointEventLocationsRemoved,
		debugger.BreakpointEventLocationsResolved, debugger.BreakpointEventAdded:
		if rec.Kind == constants.BreakpointWatch || debugger.Check(target) != nil {
			return
		}
		bp := target.FindBreakpoint(id)
		if debugger.Check(bp) != nil {
			return
		}
		locs := convert.Locations(bp.Locations())
		r.mu.Lock()
		rec.Locations = locs
		r.mu.Unlock()
	case debugger.BreakpointEventEnabled, debugger.BreakpointEventDisabled:
		r.mu.Lock()
		rec.Enabled = kind == debugger.BreakpointEventEnabled
		r.mu.Unlock()
	}
}
