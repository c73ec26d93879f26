package breakpoints

import (
	"sync"
	"testing"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/debugger"
	"github.com/fansqz/debug-session/debugger/simulator"
	e "github.com/fansqz/debug-session/error"
	"github.com/fansqz/debug-session/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T) (*simulator.Engine, debugger.Target) {
	t.Helper()
	en := simulator.New(simulator.Options{})
	target, err := en.CreateTarget("/tmp/a.out", nil)
	require.NoError(t, err)
	return en, target
}

func lineReq(file string, line uint32) *protocol.AddBreakpointRequest {
	return &protocol.AddBreakpointRequest{Line: &protocol.LineLocation{File: file, Line: line}}
}

func TestDetectKind(t *testing.T) {
	kind, err := DetectKind(lineReq("a.c", 1))
	require.NoError(t, err)
	assert.Equal(t, constants.BreakpointLine, kind)

	kind, err = DetectKind(&protocol.AddBreakpointRequest{Function: &protocol.FunctionLocation{Name: "main"}})
	require.NoError(t, err)
	assert.Equal(t, constants.BreakpointFunction, kind)

	// nothing populated falls back to Line
	kind, err = DetectKind(&protocol.AddBreakpointRequest{})
	require.NoError(t, err)
	assert.Equal(t, constants.BreakpointLine, kind)

	_, err = DetectKind(&protocol.AddBreakpointRequest{
		Line:    &protocol.LineLocation{File: "a.c", Line: 1},
		Address: &protocol.AddressLocation{Address: 0x1000},
	})
	assert.ErrorIs(t, err, e.ErrAmbiguousBreakpoint)
}

func TestCreateEmptyRequestFailsAsLine(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	_, err := r.Create(target, &protocol.AddBreakpointRequest{})
	assert.ErrorIs(t, err, e.ErrMissingArgument)
	assert.Contains(t, err.Error(), "line location")
	assert.Equal(t, 0, r.Len())
}

func TestCreateLineAndLegacyIndex(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	bp, err := r.Create(target, lineReq("a.out.c", 10))
	require.NoError(t, err)
	assert.Greater(t, bp.ID, int64(0))
	assert.Equal(t, constants.BreakpointLine, bp.Kind)
	assert.True(t, bp.Enabled)
	require.Len(t, bp.Locations, 1)
	assert.True(t, bp.Locations[0].Resolved)
	assert.Equal(t, uint32(10), bp.Locations[0].Line)

	byKey, ok := r.ByLegacyKey("a.out.c", 10)
	require.True(t, ok)
	assert.Equal(t, bp.ID, byKey.ID)

	require.NoError(t, r.Remove(target, bp.ID))
	_, ok = r.ByLegacyKey("a.out.c", 10)
	assert.False(t, ok)
}

func TestLegacyIndexKeepsDuplicatePositions(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	first, err := r.Create(target, lineReq("a.out.c", 10))
	require.NoError(t, err)
	second, err := r.Create(target, lineReq("a.out.c", 10))
	require.NoError(t, err)

	all := r.AllByLegacyKey("a.out.c", 10)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	// 删除后创建的断点，先创建的断点仍可通过位置找到
	require.NoError(t, r.Remove(target, second.ID))
	byKey, ok := r.ByLegacyKey("a.out.c", 10)
	require.True(t, ok)
	assert.Equal(t, first.ID, byKey.ID)

	require.NoError(t, r.Remove(target, first.ID))
	_, ok = r.ByLegacyKey("a.out.c", 10)
	assert.False(t, ok)
	assert.Empty(t, r.AllByLegacyKey("a.out.c", 10))
}

// Create and Observe run on different goroutines in a session; go test -race
// checks the returned records never share memory with the stored ones.
func TestCreateConcurrentWithObserve(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	ids := make(chan int64, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(ids)
		for i := 0; i < 50; i++ {
			bp, err := r.Create(target, lineReq("a.out.c", uint32(i%20+1)))
			if !assert.NoError(t, err) {
				return
			}
			_ = len(bp.Locations)
			ids <- bp.ID
		}
	}()
	go func() {
		defer wg.Done()
		for id := range ids {
			r.Observe(target, id, debugger.BreakpointEventLocationsResolved)
			r.Observe(target, id, debugger.BreakpointEventDisabled)
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	for _, bp := range r.List() {
		assert.False(t, bp.Enabled)
		assert.Len(t, bp.Locations, 1)
	}
}

func TestUnresolvedIsStored(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	bp, err := r.Create(target, lineReq("missing.c", 3))
	require.NoError(t, err)
	assert.Empty(t, bp.Locations)
	assert.NotNil(t, bp.Locations)
	assert.Equal(t, 1, r.Len())
}

func TestRemoveTwiceReportsNotFound(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	bp, err := r.Create(target, lineReq("a.out.c", 10))
	require.NoError(t, err)

	require.NoError(t, r.Remove(target, bp.ID))
	err = r.Remove(target, bp.ID)
	assert.ErrorIs(t, err, e.ErrBreakpointNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestRemoveKeepsRecordWhenEngineRefuses(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	bp, err := r.Create(target, lineReq("a.out.c", 4))
	require.NoError(t, err)
	target.(*simulator.Target).FailDelete(bp.ID)

	assert.ErrorIs(t, r.Remove(target, bp.ID), e.ErrEngineFailure)
	_, ok := r.Get(bp.ID)
	assert.True(t, ok)
}

func TestClearAllAggregatesFailures(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	a, err := r.Create(target, lineReq("a.out.c", 3))
	require.NoError(t, err)
	b, err := r.Create(target, &protocol.AddBreakpointRequest{Function: &protocol.FunctionLocation{Name: "compute"}})
	require.NoError(t, err)
	target.(*simulator.Target).FailDelete(b.ID)

	cleared, err := r.ClearAll(target)
	assert.Equal(t, 2, cleared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breakpoint 2")
	assert.NotContains(t, err.Error(), "breakpoint 1")
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())
	_, ok := r.ByLegacyKey("a.out.c", 3)
	assert.False(t, ok)
	assert.Nil(t, target.FindBreakpoint(a.ID))
}

func TestClearAllWithoutTarget(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	_, err := r.Create(target, lineReq("a.out.c", 3))
	require.NoError(t, err)

	cleared, err := r.ClearAll(nil)
	assert.Equal(t, 1, cleared)
	assert.ErrorIs(t, err, e.ErrNoTarget)
	assert.Equal(t, 0, r.Len())
}

func TestUpdateAndQueries(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	line, err := r.Create(target, lineReq("a.out.c", 6))
	require.NoError(t, err)
	fn, err := r.Create(target, &protocol.AddBreakpointRequest{Function: &protocol.FunctionLocation{Name: "main"}})
	require.NoError(t, err)
	sym, err := r.Create(target, &protocol.AddBreakpointRequest{Symbol: &protocol.SymbolLocation{Pattern: "^(main|compute)$", Regex: true}})
	require.NoError(t, err)
	assert.Len(t, sym.Locations, 2)

	disabled := false
	cond := "i == 3"
	var ignore uint32 = 2
	got, err := r.Update(target, &protocol.UpdateBreakpointRequest{ID: line.ID, Enabled: &disabled, Condition: &cond, IgnoreCount: &ignore})
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "i == 3", got.Condition)
	assert.Equal(t, uint32(2), got.IgnoreCount)

	_, err = r.SetEnabled(target, 99, true)
	assert.ErrorIs(t, err, e.ErrBreakpointNotFound)

	ids := func(bps []protocol.Breakpoint) []int64 {
		var out []int64
		for _, bp := range bps {
			out = append(out, bp.ID)
		}
		return out
	}
	assert.Equal(t, []int64{line.ID, fn.ID, sym.ID}, ids(r.List()))
	assert.Equal(t, []int64{fn.ID, sym.ID}, ids(r.ByKind(constants.BreakpointFunction, constants.BreakpointSymbol)))
	assert.Len(t, r.ByKind(), 3)
}

func TestWatchFailsClosed(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	watch := func(w protocol.WatchLocation) error {
		_, err := r.Create(target, &protocol.AddBreakpointRequest{Watch: &w})
		return err
	}

	assert.ErrorIs(t, watch(protocol.WatchLocation{Variable: "i"}), e.ErrNoProcess)

	p, err := target.Launch(&debugger.LaunchOptions{StopAtEntry: true})
	require.NoError(t, err)
	assert.ErrorIs(t, watch(protocol.WatchLocation{Variable: "i", ThreadID: 1}), e.ErrNoThread)
	assert.ErrorIs(t, watch(protocol.WatchLocation{Variable: "i", FrameIndex: 9}), e.ErrNoFrame)
	assert.ErrorIs(t, watch(protocol.WatchLocation{Variable: "nope"}), e.ErrVariableNotFound)
	assert.ErrorIs(t, watch(protocol.WatchLocation{}), e.ErrMissingArgument)
	assert.Equal(t, 0, r.Len())

	bp, err := r.Create(target, &protocol.AddBreakpointRequest{Watch: &protocol.WatchLocation{Variable: "i"}})
	require.NoError(t, err)
	assert.Equal(t, constants.BreakpointWatch, bp.Kind)
	assert.Equal(t, int64(p.PID()), bp.Watch.ThreadID)
	assert.True(t, bp.Watch.Write)
	assert.NotNil(t, target.FindWatchpoint(bp.ID))

	require.NoError(t, r.Remove(target, bp.ID))
	assert.Nil(t, target.FindWatchpoint(bp.ID))
}

func TestObserveDropsOneShotAfterHit(t *testing.T) {
	_, target := newTarget(t)
	r := NewRegistry()
	bp, err := r.Create(target, &protocol.AddBreakpointRequest{
		Line:    &protocol.LineLocation{File: "a.out.c", Line: 8},
		OneShot: true,
	})
	require.NoError(t, err)
	p, err := target.Launch(nil)
	require.NoError(t, err)
	require.Equal(t, debugger.StateStopped, p.State())

	r.Observe(target, bp.ID, debugger.BreakpointEventRemoved)
	_, ok := r.Get(bp.ID)
	assert.False(t, ok)
	_, ok = r.ByLegacyKey("a.out.c", 8)
	assert.False(t, ok)

	// unknown ids are ignored
	r.Observe(target, 42, debugger.BreakpointEventLocationsResolved)
}
