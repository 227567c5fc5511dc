// Package memvm is an in-memory managed runtime whose classes are written in
// Go. It implements managed.VM with real per-thread attachment, local and
// global reference tables and pending-exception semantics, and adds fault
// injection hooks (FailAttach, Undefine, Class.Remove) for exercising
// callers' failure paths.
//
//	vm := memvm.New()
//	vm.DefineClass("com/example/Greeter").
//		Constructor("func(string)", func(c *memvm.Call) (any, error) {
//			return c.String(0)
//		}).
//		Method("greet", "func() -> string", func(c *memvm.Call) (any, error) {
//			return "hello " + c.Self.Value.(string), nil
//		})
//
// Thread identity comes from managed.ThreadID, so tests can simulate many
// native threads from one goroutine with managed.WithThread.
package memvm
