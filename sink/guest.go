package sink

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/clearcut-bridge/internal/wasmenc"
	"github.com/wippyai/clearcut-bridge/managed"
	"github.com/wippyai/clearcut-bridge/wasmvm"
)

// HostModule is the import module the guest calls back into.
const HostModule = "sink"

// Fixed guest handles. Host allocations start at heapBase and logger ids
// carry loggerBase, so neither collides with these.
const (
	availabilityHandle = 1
	contextHandle      = 2
	entryPointHandle   = 3

	heapBase   = 1024
	loggerBase = 0x4000_0000
)

// Guest exports
const (
	exportGetInstance    = "availability.get_instance"
	exportIsAvailable    = "availability.is_available"
	exportVersionCode    = "availability.version_code"
	exportContextGetter  = "activity.get_application_context"
	exportLoggerNew      = "logger.new"
	exportLoggerAnon     = "logger.anonymous"
	exportLoggerNewEvent = "logger.new_event"
	exportBuilderLog     = "builder.log"
)

// Guest assembles the service as a WebAssembly module. Host allocations are
// laid out as [length:4][owner:4][data]; newEvent stores the logger in the
// owner word so a builder is the payload array itself.
func (s *Service) Guest() []byte {
	i32 := wasmenc.I32
	sig := func(params, results int) wasmenc.FuncType {
		ft := wasmenc.FuncType{}
		for i := 0; i < params; i++ {
			ft.Params = append(ft.Params, i32)
		}
		for i := 0; i < results; i++ {
			ft.Results = append(ft.Results, i32)
		}
		return ft
	}

	var m wasmenc.Module
	open := m.ImportFunc(HostModule, "open", sig(3, 1))
	deliver := m.ImportFunc(HostModule, "deliver", sig(3, 0))
	status := m.ImportFunc(HostModule, "status", sig(1, 1))

	heap := m.Global("", i32, true, heapBase)
	live := m.Global("", i32, true, 0)
	m.Global(exportVersionCode, i32, false, s.cfg.VersionCode)
	m.Memory("memory", 1, nil)

	// alloc(size) -> ptr, growing memory when the bump pointer passes its end
	m.Func(wasmvm.AllocExport, sig(1, 1), []wasmenc.ValType{i32, i32}, new(wasmenc.Code).
		GlobalGet(heap).LocalSet(1).
		LocalGet(1).LocalGet(0).I32Add().I32Const(7).I32Add().I32Const(-8).I32And().LocalSet(2).
		LocalGet(2).MemorySize().I32Const(16).I32Shl().I32LeU().I32Eqz().
		If().
		LocalGet(2).I32Const(0xFFFF).I32Add().I32Const(16).I32ShrU().
		MemorySize().I32Sub().
		MemoryGrow().I32Const(-1).I32Eq().
		If().Unreachable().End().
		End().
		LocalGet(2).GlobalSet(heap).
		GlobalGet(live).I32Const(1).I32Add().GlobalSet(live).
		LocalGet(1))

	// release(ptr) resets the heap once nothing is live
	m.Func(wasmvm.ReleaseExport, sig(1, 0), nil, new(wasmenc.Code).
		GlobalGet(live).I32Eqz().If().Return().End().
		GlobalGet(live).I32Const(1).I32Sub().GlobalSet(live).
		GlobalGet(live).I32Eqz().If().I32Const(heapBase).GlobalSet(heap).End())

	m.Func(exportGetInstance, sig(0, 1), nil, new(wasmenc.Code).
		I32Const(availabilityHandle))

	m.Func(exportIsAvailable, sig(2, 1), nil, new(wasmenc.Code).
		TrapIfZero(0).TrapIfZero(1).
		LocalGet(1).Call(status))

	m.Func(exportContextGetter, sig(1, 1), nil, new(wasmenc.Code).
		TrapIfZero(0).
		I32Const(contextHandle))

	// logger.new(context, source, account); account may be null
	m.Func(exportLoggerNew, sig(3, 1), []wasmenc.ValType{i32}, openLogger(open, 3, false))

	// logger.anonymous(context, source)
	m.Func(exportLoggerAnon, sig(2, 1), []wasmenc.ValType{i32}, openLogger(open, 2, true))

	m.Func(exportLoggerNewEvent, sig(2, 1), nil, new(wasmenc.Code).
		TrapIfZero(0).TrapIfZero(1).
		LocalGet(1).LocalGet(0).I32Store(4).
		LocalGet(1))

	m.Func(exportBuilderLog, sig(1, 0), nil, new(wasmenc.Code).
		TrapIfZero(0).
		LocalGet(0).I32Load(4).
		LocalGet(0).I32Const(8).I32Add().
		LocalGet(0).I32Load(0).
		Call(deliver))

	return m.Encode()
}

// openLogger emits a constructor body that passes the source string to the
// host and traps when the host refuses it. Local tmp holds the logger id.
func openLogger(open, tmp uint32, anonymous bool) *wasmenc.Code {
	flag := int32(0)
	if anonymous {
		flag = 1
	}
	return new(wasmenc.Code).
		TrapIfZero(0).TrapIfZero(1).
		LocalGet(1).I32Const(8).I32Add().
		LocalGet(1).I32Load(0).
		I32Const(flag).
		Call(open).
		LocalTee(tmp).I32Eqz().If().Unreachable().End().
		LocalGet(tmp)
}

// Binding maps the contract onto the guest's exports.
func (s *Service) Binding() wasmvm.Binding {
	c := s.contract
	return wasmvm.Binding{Classes: []wasmvm.ClassBinding{
		{
			Name: c.AvailabilityType,
			Methods: []wasmvm.MethodBinding{
				{
					Name: c.GetInstance.Name, Signature: c.GetInstance.Signature, Static: true,
					Export: exportGetInstance, Result: "s32", ResultClass: c.AvailabilityType,
				},
				{
					Name: c.IsAvailable.Name, Signature: c.IsAvailable.Signature,
					Export: exportIsAvailable, Params: "self: s32, context: s32", Result: "s32",
				},
			},
			Fields: []wasmvm.FieldBinding{
				{Name: c.VersionField.Name, Signature: c.VersionField.Signature, Global: exportVersionCode},
			},
		},
		{Name: ContextType},
		{
			Name: EntryPointType,
			Methods: []wasmvm.MethodBinding{{
				Name: c.ContextGetter.Name, Signature: c.ContextGetter.Signature,
				Export: exportContextGetter, Params: "self: s32", Result: "s32", ResultClass: ContextType,
			}},
		},
		{
			Name: c.LoggerType,
			Methods: []wasmvm.MethodBinding{
				{
					Name: managed.Constructor, Signature: c.Constructor.Signature,
					Export: exportLoggerNew, Params: "context: s32, source: s32, account: s32", Result: "s32",
				},
				{
					Name: c.AnonymousFactory.Name, Signature: c.AnonymousFactory.Signature, Static: true,
					Export: exportLoggerAnon, Params: "context: s32, source: s32", Result: "s32", ResultClass: c.LoggerType,
				},
				{
					Name: c.NewEvent.Name, Signature: c.NewEvent.Signature,
					Export: exportLoggerNewEvent, Params: "self: s32, payload: s32", Result: "s32", ResultClass: c.BuilderType,
				},
			},
		},
		{
			Name: c.BuilderType,
			Methods: []wasmvm.MethodBinding{{
				Name: c.Submit.Name, Signature: c.Submit.Signature,
				Export: exportBuilderLog, Params: "self: s32",
			}},
		},
	}}
}

// HostFuncs returns the functions the guest imports from HostModule.
// A rejected delivery panics, which wazero turns into a trap and the
// runtime into a pending exception.
func (s *Service) HostFuncs() map[string]any {
	return map[string]any{
		"open": func(_ context.Context, m api.Module, ptr, length, anonymous uint32) uint32 {
			src, ok := m.Memory().Read(ptr, length)
			if !ok {
				return 0
			}
			return s.open(string(src), anonymous != 0)
		},
		"deliver": func(ctx context.Context, m api.Module, id, ptr, length uint32) {
			l, ok := s.lookup(id)
			if !ok {
				panic(fmt.Errorf("unknown logger %#x", id))
			}
			payload, ok := m.Memory().Read(ptr, length)
			if !ok {
				panic(fmt.Errorf("payload [%#x, +%d) outside guest memory", ptr, length))
			}
			if err := s.deliver(l, payload, managed.ThreadID(ctx)); err != nil {
				panic(err)
			}
		},
		"status": func(context.Context, api.Module, uint32) uint32 {
			return uint32(s.status.Load())
		},
	}
}

// StartWasm runs the service as a guest in a new wasmvm.VM and returns the
// VM with a global reference to the application entry point.
func (s *Service) StartWasm(ctx context.Context, binding *wasmvm.Binding) (*wasmvm.VM, managed.Ref, error) {
	b := s.Binding()
	if binding != nil {
		b = *binding
	}
	vm, err := wasmvm.New(ctx, wasmvm.Config{
		Guest:            s.Guest(),
		Binding:          b,
		HostModule:       HostModule,
		HostFuncs:        s.HostFuncs(),
		MemoryLimitPages: s.cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, managed.Null, err
	}
	entry, err := vm.NewGlobal(EntryPointType, entryPointHandle)
	if err != nil {
		_ = vm.Close(ctx)
		return nil, managed.Null, err
	}
	return vm, entry, nil
}
