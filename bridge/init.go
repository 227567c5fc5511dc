package bridge

import (
	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/contract"
	"github.com/wippyai/clearcut-bridge/errors"
	"github.com/wippyai/clearcut-bridge/managed"
)

// localScope deletes the local refs it collected when released.
type localScope struct {
	env  managed.Env
	refs []managed.Ref
}

func newLocalScope(env managed.Env) *localScope {
	return &localScope{env: env}
}

func (s *localScope) keep(ref managed.Ref) managed.Ref {
	if ref != managed.Null {
		s.refs = append(s.refs, ref)
	}
	return ref
}

func (s *localScope) release() {
	for _, ref := range s.refs {
		s.env.DeleteLocalRef(ref)
	}
	s.refs = nil
}

func (b *Bridge) init(env managed.Env, entryPoint managed.Ref) error {
	if env == nil {
		return errors.NilReference(errors.PhaseInit, "env")
	}
	vm := env.VM()
	if vm == nil {
		return errors.NilReference(errors.PhaseInit, "runtime")
	}

	c := b.cfg.Contract
	scope := newLocalScope(env)
	defer scope.release()

	appContext, err := b.applicationContext(env, scope, entryPoint)
	if err != nil {
		return err
	}

	if err := b.capability(env, scope, appContext); err != nil {
		return err
	}

	loggerCls, err := b.findClass(env, scope, c.LoggerType)
	if err != nil {
		return err
	}
	if _, err := b.findClass(env, scope, c.StringType); err != nil {
		return err
	}
	builderCls, err := b.findClass(env, scope, c.BuilderType)
	if err != nil {
		return err
	}

	submit, err := b.methodID(env, builderCls, c.BuilderType, c.Submit, false)
	if err != nil {
		return err
	}
	newEvent, err := b.methodID(env, loggerCls, c.LoggerType, c.NewEvent, false)
	if err != nil {
		return err
	}
	factory, err := b.methodID(env, loggerCls, c.LoggerType, c.AnonymousFactory, true)
	if err != nil {
		return err
	}
	ctor, err := b.methodID(env, loggerCls, c.LoggerType, c.Constructor, false)
	if err != nil {
		return err
	}

	source := scope.keep(env.NewString(b.cfg.LogSource))
	if err := b.checkException(env, errors.PhaseInit, c.StringType, ""); err != nil {
		return err
	}

	var local managed.Ref
	used := c.Constructor
	switch b.cfg.Construction {
	case ConstructionAnonymous:
		used = c.AnonymousFactory
		local = env.CallStaticObjectMethod(loggerCls, factory, appContext, source)
	default:
		local = env.NewObject(loggerCls, ctor, appContext, source, managed.Null)
	}
	scope.keep(local)
	if err := b.checkException(env, errors.PhaseInit, c.LoggerType, used.Name); err != nil {
		return err
	}
	if local == managed.Null {
		return errors.NilReference(errors.PhaseInit, "logger")
	}

	global := env.NewGlobalRef(local)
	if err := b.checkException(env, errors.PhaseInit, c.LoggerType, ""); err != nil {
		return err
	}
	if global == managed.Null {
		return errors.NilReference(errors.PhaseInit, "global logger reference")
	}

	b.vm = vm
	b.logger = global
	b.newEvent = newEvent
	b.submit = submit
	b.log.Debug("logger constructed",
		zap.String("construction", string(b.cfg.Construction)),
		zap.String("source", b.cfg.LogSource))
	return nil
}

func (b *Bridge) applicationContext(env managed.Env, scope *localScope, entryPoint managed.Ref) (managed.Ref, error) {
	getter := b.cfg.Contract.ContextGetter
	if entryPoint == managed.Null {
		return managed.Null, errors.NilReference(errors.PhaseInit, "entry point")
	}

	cls := scope.keep(env.ObjectClass(entryPoint))
	if err := b.checkException(env, errors.PhaseResolve, "entry point", ""); err != nil {
		return managed.Null, err
	}
	id, err := b.methodID(env, cls, "entry point", getter, false)
	if err != nil {
		return managed.Null, err
	}
	appContext := scope.keep(env.CallObjectMethod(entryPoint, id))
	if err := b.checkException(env, errors.PhaseInit, "entry point", getter.Name); err != nil {
		return managed.Null, err
	}
	if appContext == managed.Null {
		return managed.Null, errors.NilReference(errors.PhaseInit, "application context")
	}
	return appContext, nil
}

// capability probes the availability checker. An unavailable service is
// reported with its status; the version field is logged for diagnostics and
// never affects the outcome.
func (b *Bridge) capability(env managed.Env, scope *localScope, appContext managed.Ref) error {
	c := b.cfg.Contract

	cls, err := b.findClass(env, scope, c.AvailabilityType)
	if err != nil {
		return err
	}
	getInstance, err := b.methodID(env, cls, c.AvailabilityType, c.GetInstance, true)
	if err != nil {
		return err
	}
	instance := scope.keep(env.CallStaticObjectMethod(cls, getInstance))
	if err := b.checkException(env, errors.PhaseCapability, c.AvailabilityType, c.GetInstance.Name); err != nil {
		return err
	}
	isAvailable, err := b.methodID(env, cls, c.AvailabilityType, c.IsAvailable, false)
	if err != nil {
		return err
	}
	status := env.CallIntMethod(instance, isAvailable, appContext)
	if err := b.checkException(env, errors.PhaseCapability, c.AvailabilityType, c.IsAvailable.Name); err != nil {
		return err
	}

	b.log.Info("Google Play Services status", zap.Int32("status", status))
	if status == 0 {
		return nil
	}

	b.logVersion(env, cls)
	b.log.Warn("Google Play Service is not available")
	return errors.Unavailable(status)
}

func (b *Bridge) logVersion(env managed.Env, cls managed.Ref) {
	c := b.cfg.Contract
	field := env.StaticFieldID(cls, c.VersionField.Name, c.VersionField.Signature)
	if err := b.checkException(env, errors.PhaseCapability, c.AvailabilityType, c.VersionField.Name); err != nil {
		return
	}
	version := env.StaticIntField(cls, field)
	if err := b.checkException(env, errors.PhaseCapability, c.AvailabilityType, c.VersionField.Name); err != nil {
		return
	}
	b.log.Info("Google Play Services version", zap.Int32("version", version))
}

func (b *Bridge) findClass(env managed.Env, scope *localScope, name string) (managed.Ref, error) {
	cls := scope.keep(env.FindClass(name))
	if err := b.checkException(env, errors.PhaseResolve, name, ""); err != nil {
		return managed.Null, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Type(name).
			Cause(err).
			Build()
	}
	if cls == managed.Null {
		return managed.Null, errors.NotFound(errors.PhaseResolve, name, "", "")
	}
	return cls, nil
}

func (b *Bridge) methodID(env managed.Env, cls managed.Ref, typeName string, m contract.Member, static bool) (managed.MethodID, error) {
	var id managed.MethodID
	if static {
		id = env.StaticMethodID(cls, m.Name, m.Signature)
	} else {
		id = env.MethodID(cls, m.Name, m.Signature)
	}
	if err := b.checkException(env, errors.PhaseResolve, typeName, m.Name); err != nil {
		return 0, errors.New(errors.PhaseResolve, errors.KindNotFound).
			Type(typeName).Member(m.Name).Signature(m.Signature).
			Cause(err).
			Build()
	}
	if id == 0 {
		return 0, errors.NotFound(errors.PhaseResolve, typeName, m.Name, m.Signature)
	}
	return id, nil
}

// checkException describes and clears a pending exception, turning it into
// a remote_exception error.
func (b *Bridge) checkException(env managed.Env, phase errors.Phase, typeName, member string) error {
	if !env.ExceptionCheck() {
		return nil
	}
	desc := env.ExceptionDescribe()
	env.ExceptionClear()

	b.log.Warn("remote exception",
		zap.String("phase", string(phase)),
		zap.String("type", typeName),
		zap.String("member", member),
		zap.String("exception", desc))
	return errors.New(phase, errors.KindRemoteException).
		Type(typeName).Member(member).
		Detail("%s", desc).
		Build()
}
