package sink

import (
	"github.com/wippyai/clearcut-bridge/managed"
	"github.com/wippyai/clearcut-bridge/memvm"
)

type memBuilder struct {
	logger  *loggerEntry
	payload []byte
}

// InstallMem defines the service's classes in vm and returns a global
// reference to an application entry point whose context getter the bridge
// can call.
func (s *Service) InstallMem(vm *memvm.VM) managed.Ref {
	c := s.contract

	appCtx := vm.DefineClass(ContextType).New(nil)

	availability := vm.DefineClass(c.AvailabilityType)
	instance := availability.New(nil)
	availability.
		StaticMethod(c.GetInstance.Name, c.GetInstance.Signature, func(*memvm.Call) (any, error) {
			return instance, nil
		}).
		Method(c.IsAvailable.Name, c.IsAvailable.Signature, func(call *memvm.Call) (any, error) {
			if call.Arg(0) == nil {
				return nil, managed.Throw(managed.ErrNullPointer, "context is null")
			}
			return s.status.Load(), nil
		}).
		StaticInt(c.VersionField.Name, c.VersionField.Signature, s.cfg.VersionCode)

	entry := vm.DefineClass(EntryPointType).
		Method(c.ContextGetter.Name, c.ContextGetter.Signature, func(*memvm.Call) (any, error) {
			return appCtx, nil
		})

	builders := vm.DefineClass(c.BuilderType).
		Method(c.Submit.Name, c.Submit.Signature, func(call *memvm.Call) (any, error) {
			b := call.Self.Value.(*memBuilder)
			return nil, s.deliver(*b.logger, b.payload, call.Thread)
		})

	loggers := vm.DefineClass(c.LoggerType)
	loggers.
		Constructor(c.Constructor.Signature, func(call *memvm.Call) (any, error) {
			return s.memLogger(call, false)
		}).
		StaticMethod(c.AnonymousFactory.Name, c.AnonymousFactory.Signature, func(call *memvm.Call) (any, error) {
			l, err := s.memLogger(call, true)
			if err != nil {
				return nil, err
			}
			return loggers.New(l), nil
		}).
		Method(c.NewEvent.Name, c.NewEvent.Signature, func(call *memvm.Call) (any, error) {
			payload, err := call.Bytes(0)
			if err != nil {
				return nil, err
			}
			return builders.New(&memBuilder{logger: call.Self.Value.(*loggerEntry), payload: payload}), nil
		})

	return vm.NewGlobal(entry.New(nil))
}

// memLogger opens a logger from (context, source, ...) arguments.
func (s *Service) memLogger(call *memvm.Call, anonymous bool) (*loggerEntry, error) {
	if call.Arg(0) == nil {
		return nil, managed.Throw(managed.ErrNullPointer, "context is null")
	}
	source, err := call.String(1)
	if err != nil {
		return nil, err
	}
	l, _ := s.lookup(s.open(source, anonymous))
	return &l, nil
}
