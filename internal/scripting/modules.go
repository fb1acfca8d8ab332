package scripting

import (
	"math"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine.* Lua tables into L:
//
//	engine.log.debug/info/warn(msg)
//	engine.math.clamp(v, lo, hi)
//	engine.math.hypot(x, z)
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()

	logTbl := L.NewTable()
	logFn := func(write func(string, ...zap.Field)) lua.LGFunction {
		return func(L *lua.LState) int {
			write(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}
	}
	L.SetField(logTbl, "debug", L.NewFunction(logFn(m.logger.Debug)))
	L.SetField(logTbl, "info", L.NewFunction(logFn(m.logger.Info)))
	L.SetField(logTbl, "warn", L.NewFunction(logFn(m.logger.Warn)))
	L.SetField(engine, "log", logTbl)

	mathTbl := L.NewTable()
	L.SetField(mathTbl, "clamp", L.NewFunction(func(L *lua.LState) int {
		v, lo, hi := float64(L.CheckNumber(1)), float64(L.CheckNumber(2)), float64(L.CheckNumber(3))
		L.Push(lua.LNumber(math.Min(math.Max(v, lo), hi)))
		return 1
	}))
	L.SetField(mathTbl, "hypot", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(math.Hypot(float64(L.CheckNumber(1)), float64(L.CheckNumber(2)))))
		return 1
	}))
	L.SetField(engine, "math", mathTbl)

	L.SetGlobal("engine", engine)
}
