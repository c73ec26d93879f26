package debugger

import (
	"fmt"
	"sort"
	"sync"

	e "github.com/fansqz/debug-session/error"
	"github.com/samber/lo"
)

// Factory 创建一个调试引擎
type Factory func() (Debugger, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// Register makes a backend available to Open. It panics on duplicate names,
// like database/sql drivers.
func Register(name string, factory Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if factory == nil {
		panic("debugger: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("debugger: Register called twice for backend " + name)
	}
	backends[name] = factory
}

// Open 根据名称创建引擎
func Open(name string) (Debugger, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", e.ErrUnknownBackend, name, Backends())
	}
	return factory()
}

// Backends 已注册的引擎名称
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := lo.Keys(backends)
	sort.Strings(names)
	return names
}
