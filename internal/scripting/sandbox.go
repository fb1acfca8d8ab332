// Package scripting provides a sandboxed GopherLua environment for tactic
// scripts. It has no dependency on the combat packages; callers exchange plain
// Go maps with hooks and adapt them to their own types.
package scripting

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// hook call when no override is configured.
const DefaultInstructionLimit = 100_000

var strippedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require"}

// budgetContext cancels itself once Done has been polled budget times.
// GopherLua polls Done once per opcode while a context is set, so the budget
// is an exact opcode count. A VM is only driven by one goroutine at a time.
type budgetContext struct {
	context.Context
	cancel context.CancelFunc
	budget int64
}

func (c *budgetContext) Done() <-chan struct{} {
	c.budget--
	if c.budget <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

// NewSandboxedState returns a VM with only the base, table, string and math
// libraries, and with the file and module loaders removed.
//
// Postcondition: Returns a non-nil LState with no instruction budget; wrap
// each execution in WithBudget. The caller must call L.Close() when done.
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// WithBudget runs fn with L limited to at most instLimit opcodes. A budget is
// per execution, so a long-lived VM is never exhausted by earlier calls.
//
// Precondition: instLimit >= 0; 0 uses DefaultInstructionLimit.
func WithBudget(L *lua.LState, instLimit int, fn func() error) error {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	L.SetContext(&budgetContext{Context: base, cancel: cancel, budget: int64(instLimit)})
	defer L.RemoveContext()
	return fn()
}
