package transceiver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ModuleConfig is handed to a module factory.
type ModuleConfig struct {
	Blockchain string
	Network    string
	URL        string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// Factory builds a transceiver module. It returns any so that incomplete
// modules are reported by name instead of failing to compile elsewhere.
type Factory func(cfg ModuleConfig) (any, error)

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]Factory)
)

// Register makes a module available under name. Modules register from init
// and a duplicate name panics.
func Register(name string, factory Factory) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	if factory == nil {
		panic("transceiver: Register factory is nil")
	}
	if _, dup := modules[name]; dup {
		panic("transceiver: Register called twice for module " + name)
	}
	modules[name] = factory
}

// Modules returns the registered module names, sorted.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load builds the named module and validates it.
func Load(name string, cfg ModuleConfig) (UTXOTransceiver, error) {
	modulesMu.RLock()
	factory, ok := modules[name]
	modulesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownModule, name, Modules())
	}

	v, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create transceiver module %s: %w", name, err)
	}
	return AsTransceiver(name, v)
}
