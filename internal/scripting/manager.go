package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// vm is one sandboxed LState. LStates are single-threaded, so calls are serialized.
type vm struct {
	mu sync.Mutex
	L  *lua.LState
}

// Manager owns one sandboxed LState per script set and exposes hook dispatch.
// It is safe for concurrent use.
type Manager struct {
	instLimit int
	logger    *zap.Logger

	mu  sync.RWMutex
	vms map[string]*vm
}

// NewManager creates a Manager whose hook calls are limited to instLimit opcodes.
//
// Precondition: logger must be non-nil; instLimit >= 0 (0 uses DefaultInstructionLimit).
// Postcondition: Returns a non-nil Manager with no script sets loaded.
func NewManager(instLimit int, logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{instLimit: instLimit, logger: logger, vms: make(map[string]*vm)}
}

// Load creates a sandboxed VM for set, registers the engine.* modules, then
// executes every *.lua file in scriptDir in lexicographic order. Loading a set
// again replaces the previous VM.
//
// Precondition: set must be non-empty; scriptDir must be a readable directory.
func (m *Manager) Load(set, scriptDir string) error {
	L := NewSandboxedState()
	m.RegisterModules(L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, set, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := WithBudget(L, m.instLimit, func() error { return L.DoFile(path) }); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, set, err)
		}
	}

	m.mu.Lock()
	old := m.vms[set]
	m.vms[set] = &vm{L: L}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.logger.Info("scripts loaded", zap.String("set", set), zap.Int("files", len(luaFiles)))
	return nil
}

// Has reports whether set defines a global function named hook.
func (m *Manager) Has(set, hook string) bool {
	v := m.get(set)
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.L.GetGlobal(hook).Type() == lua.LTFunction
}

// Call invokes the Lua global hook in set with in converted to a Lua table and
// converts a table result back. Missing sets, missing hooks, runtime errors and
// non-table results all report false; runtime errors are logged at Warn.
func (m *Manager) Call(set, hook string, in map[string]any) (map[string]any, bool) {
	v := m.get(set)
	if v == nil {
		m.logger.Debug("no script set", zap.String("set", set), zap.String("hook", hook))
		return nil, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fn := v.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return nil, false
	}
	err := WithBudget(v.L, m.instLimit, func() error {
		return v.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, ToLua(v.L, in))
	})
	if err != nil {
		m.logger.Warn("lua runtime error", zap.String("set", set), zap.String("hook", hook), zap.Error(err))
		return nil, false
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	out, ok := FromLua(ret).(map[string]any)
	return out, ok
}

// Close releases every VM. Later calls report false.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
	}
}

func (m *Manager) get(set string) *vm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vms[set]
}

// ToLua converts nil, bool, string, numbers, []any and map[string]any to Lua values.
// Other types become their fmt representation.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(ToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, ToLua(L, e))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}

// FromLua converts a Lua value to nil, bool, string, float64 or map[string]any.
// Tables become maps keyed by their string keys; other keys are dropped.
func FromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LTable:
		out := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				out[string(ks)] = FromLua(val)
			}
		})
		return out
	}
	return nil
}
