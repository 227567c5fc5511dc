package wasmvm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/errors"
	"github.com/wippyai/clearcut-bridge/internal/reftab"
	"github.com/wippyai/clearcut-bridge/managed"
)

// Guest exports every module must provide.
const (
	AllocExport   = "alloc"
	ReleaseExport = "release"
)

// Layout of a host-allocated array or string in guest memory.
const (
	headerSize  = 8
	ownerOffset = 4
)

const globalTag = 1

// Config holds configuration for VM creation
type Config struct {
	// HostFuncs are exported under HostModule before the guest is
	// instantiated. Values follow wazero's HostFunctionBuilder.WithFunc rules.
	HostFuncs  map[string]any
	HostModule string

	Guest   []byte
	Binding Binding

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// MaxVersion is the highest interface version Env accepts.
	// 0 means managed.Version1_6.
	MaxVersion managed.Version
}

// VM is a managed runtime whose classes are implemented by a WebAssembly
// guest. All guest calls are serialized.
type VM struct {
	runtime    wazero.Runtime
	module     api.Module
	alloc      api.Function
	release    api.Function
	classes    map[string]*class
	envs       map[int64]*env
	faults     map[int64]managed.Status
	owned      map[uint32]int
	globals    *reftab.Table[object]
	stringCls  *class
	bytesCls   *class
	classCls   *class
	methods    []*method
	fields     []*field
	nextTag    uint64
	attaches   atomic.Int64
	detaches   atomic.Int64
	mu         sync.Mutex
	maxVersion managed.Version
}

type class struct {
	methods map[memberKey]*method
	fields  map[memberKey]*field
	name    string
}

type memberKey struct {
	name   string
	sig    string
	static bool
}

type method struct {
	class       *class
	resultClass *class
	fn          api.Function
	name        string
	sig         string
	export      string
	id          managed.MethodID
	static      bool
	returns     bool
}

type field struct {
	class  *class
	global api.Global
	name   string
	sig    string
	id     managed.FieldID
}

// object is what a reference points to: a guest handle of some class, or a
// class itself.
type object struct {
	class  *class
	meta   *class
	handle uint32
}

// New compiles and instantiates the guest, registers the host module and
// validates every binding against the guest's exports.
func New(ctx context.Context, cfg Config) (*VM, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	vm, err := load(ctx, r, cfg)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return vm, nil
}

func load(ctx context.Context, r wazero.Runtime, cfg Config) (*VM, error) {
	if cfg.HostModule != "" {
		host := r.NewHostModuleBuilder(cfg.HostModule)
		for name, fn := range cfg.HostFuncs {
			host = host.NewFunctionBuilder().WithFunc(fn).Export(name)
		}
		if _, err := host.Instantiate(ctx); err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInstantiation, err, "host module "+cfg.HostModule)
		}
	}

	compiled, err := r.CompileModule(ctx, cfg.Guest)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "compile guest")
	}
	if len(compiled.ExportedMemories()) == 0 {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "guest exports no memory")
	}

	exports := compiled.ExportedFunctions()
	if err := checkAllocator(exports); err != nil {
		return nil, err
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("guest"))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	maxVersion := cfg.MaxVersion
	if maxVersion == 0 {
		maxVersion = managed.Version1_6
	}
	vm := &VM{
		runtime:    r,
		module:     mod,
		alloc:      mod.ExportedFunction(AllocExport),
		release:    mod.ExportedFunction(ReleaseExport),
		classes:    make(map[string]*class),
		envs:       make(map[int64]*env),
		faults:     make(map[int64]managed.Status),
		owned:      make(map[uint32]int),
		globals:    reftab.New[object](globalTag),
		nextTag:    globalTag + 1,
		maxVersion: maxVersion,
	}
	vm.stringCls = vm.defineClass(managed.StringClass)
	vm.bytesCls = vm.defineClass(managed.ByteArrayClass)
	vm.classCls = vm.defineClass(managed.ClassClass)

	for i := range cfg.Binding.Classes {
		vm.defineClass(cfg.Binding.Classes[i].Name)
	}
	for i := range cfg.Binding.Classes {
		cb := &cfg.Binding.Classes[i]
		if err := vm.bindClass(cb, exports); err != nil {
			return nil, err
		}
	}

	Logger().Debug("guest loaded",
		zap.Int("classes", len(cfg.Binding.Classes)),
		zap.Int("methods", len(vm.methods)),
		zap.Int("fields", len(vm.fields)))
	return vm, nil
}

func checkAllocator(exports map[string]api.FunctionDefinition) error {
	want := map[string]struct{ params, results []api.ValueType }{
		AllocExport:   {[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}},
		ReleaseExport: {[]api.ValueType{api.ValueTypeI32}, nil},
	}
	for name, sig := range want {
		def, ok := exports[name]
		if !ok {
			return errors.NotFound(errors.PhaseRuntime, "guest", name, "")
		}
		if !sameTypes(def.ParamTypes(), sig.params) || !sameTypes(def.ResultTypes(), sig.results) {
			return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
				Type("guest").Member(name).
				Detail("export is %s -> %s", typeNames(def.ParamTypes()), typeNames(def.ResultTypes())).
				Build()
		}
	}
	return nil
}

func (vm *VM) defineClass(name string) *class {
	if c, ok := vm.classes[name]; ok {
		return c
	}
	c := &class{
		name:    name,
		methods: make(map[memberKey]*method),
		fields:  make(map[memberKey]*field),
	}
	vm.classes[name] = c
	return c
}

func (vm *VM) bindClass(cb *ClassBinding, exports map[string]api.FunctionDefinition) error {
	c := vm.classes[cb.Name]

	for i := range cb.Methods {
		mb := &cb.Methods[i]
		def, ok := exports[mb.Export]
		if !ok {
			return errors.New(errors.PhaseRuntime, errors.KindNotFound).
				Type(cb.Name).Member(mb.Name).Signature(mb.Signature).
				Detail("guest has no export %q", mb.Export).
				Build()
		}
		if err := checkExport(cb.Name, mb, def); err != nil {
			return err
		}

		m := &method{
			class:   c,
			fn:      vm.module.ExportedFunction(mb.Export),
			name:    mb.Name,
			sig:     mb.Signature,
			export:  mb.Export,
			static:  mb.Static || mb.Name == managed.Constructor,
			returns: len(def.ResultTypes()) == 1,
		}
		if mb.Name == managed.Constructor {
			m.resultClass = c
		} else if mb.ResultClass != "" {
			rc, ok := vm.classes[mb.ResultClass]
			if !ok {
				return errors.NotFound(errors.PhaseRuntime, mb.ResultClass, "", "")
			}
			m.resultClass = rc
		}
		if m.resultClass != nil && !m.returns {
			return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
				Type(cb.Name).Member(mb.Name).Signature(mb.Signature).
				Detail("%s returns no handle", mb.Export).
				Build()
		}

		vm.methods = append(vm.methods, m)
		m.id = managed.MethodID(len(vm.methods))
		// constructors take no receiver but resolve through MethodID
		key := memberKey{name: m.name, sig: m.sig, static: mb.Static && mb.Name != managed.Constructor}
		c.methods[key] = m
	}

	for i := range cb.Fields {
		fb := &cb.Fields[i]
		g := vm.module.ExportedGlobal(fb.Global)
		if g == nil {
			return errors.New(errors.PhaseRuntime, errors.KindNotFound).
				Type(cb.Name).Member(fb.Name).Signature(fb.Signature).
				Detail("guest has no global %q", fb.Global).
				Build()
		}
		if g.Type() != api.ValueTypeI32 {
			return errors.New(errors.PhaseRuntime, errors.KindSignatureMismatch).
				Type(cb.Name).Member(fb.Name).Signature(fb.Signature).
				Detail("global %q is %s, want i32", fb.Global, api.ValueTypeName(g.Type())).
				Build()
		}
		f := &field{class: c, global: g, name: fb.Name, sig: fb.Signature}
		vm.fields = append(vm.fields, f)
		f.id = managed.FieldID(len(vm.fields))
		c.fields[memberKey{name: f.name, sig: f.sig, static: true}] = f
	}
	return nil
}

// Close releases the wazero runtime and the guest with it.
func (vm *VM) Close(ctx context.Context) error {
	return vm.runtime.Close(ctx)
}

// Module returns the instantiated guest.
func (vm *VM) Module() api.Module {
	return vm.module
}

// NewGlobal stores a guest handle of class under a global reference, for
// objects that exist before any Env does, such as an application entry point.
func (vm *VM) NewGlobal(className string, handle uint32) (managed.Ref, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	c, ok := vm.classes[className]
	if !ok {
		return managed.Null, errors.NotFound(errors.PhaseRuntime, className, "", "")
	}
	if handle == 0 {
		return managed.Null, nil
	}
	obj := object{class: c, handle: handle}
	vm.retain(obj)
	return managed.Ref(vm.globals.Put(obj)), nil
}

// FailAttach makes AttachCurrentThread return status for thread.
// StatusOK clears the fault.
func (vm *VM) FailAttach(thread int64, status managed.Status) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if status == managed.StatusOK {
		delete(vm.faults, thread)
		return
	}
	vm.faults[thread] = status
}

// IsAttached reports whether thread currently holds an Env.
func (vm *VM) IsAttached(thread int64) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := vm.envs[thread]
	return ok
}

// LocalRefs returns how many local refs thread holds, or 0 when detached.
func (vm *VM) LocalRefs(thread int64) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if e, ok := vm.envs[thread]; ok {
		return e.locals.Len()
	}
	return 0
}

// GlobalRefs returns the number of live global refs.
func (vm *VM) GlobalRefs() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.globals.Len()
}

// Allocations returns the number of host allocations still held in guest
// memory.
func (vm *VM) Allocations() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.owned)
}

// Stats reports cumulative attach and detach counts.
func (vm *VM) Stats() (attaches, detaches int64) {
	return vm.attaches.Load(), vm.detaches.Load()
}

func (vm *VM) Env(ctx context.Context, version managed.Version) (managed.Env, managed.Status) {
	if version > vm.maxVersion || version <= 0 {
		return nil, managed.StatusVersion
	}

	thread := managed.ThreadID(ctx)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	e, ok := vm.envs[thread]
	if !ok {
		return nil, managed.StatusDetached
	}
	return e, managed.StatusOK
}

func (vm *VM) AttachCurrentThread(ctx context.Context) (managed.Env, managed.Status) {
	thread := managed.ThreadID(ctx)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if status, ok := vm.faults[thread]; ok {
		return nil, status
	}
	if e, ok := vm.envs[thread]; ok {
		return e, managed.StatusOK
	}

	e := &env{
		vm:     vm,
		ctx:    context.WithoutCancel(ctx),
		thread: thread,
		locals: reftab.New[object](vm.nextTag),
	}
	vm.nextTag++
	vm.envs[thread] = e
	vm.attaches.Add(1)

	Logger().Debug("thread attached", zap.Int64("thread", thread))
	return e, managed.StatusOK
}

func (vm *VM) DetachCurrentThread(ctx context.Context) managed.Status {
	thread := managed.ThreadID(ctx)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	e, ok := vm.envs[thread]
	if !ok {
		return managed.StatusOK
	}
	delete(vm.envs, thread)
	locals := e.locals.Drain()
	for _, obj := range locals {
		vm.drop(e.ctx, obj)
	}
	e.detached = true
	vm.detaches.Add(1)

	Logger().Debug("thread detached", zap.Int64("thread", thread), zap.Int("released_locals", len(locals)))
	return managed.StatusOK
}

// allocate reserves size bytes plus the array header in guest memory and
// writes the header. Callers hold vm.mu.
func (vm *VM) allocate(ctx context.Context, size int) (uint32, error) {
	res, err := vm.alloc.Call(ctx, uint64(size+headerSize))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest returned null for %d bytes", size)
	}
	mem := vm.module.Memory()
	if !mem.WriteUint32Le(ptr, uint32(size)) || !mem.WriteUint32Le(ptr+ownerOffset, 0) {
		return 0, errors.OutOfBounds(errors.PhaseRuntime, int(ptr), headerSize, int(mem.Size()))
	}
	vm.owned[ptr] = 0
	return ptr, nil
}

// retain and drop count references to host allocations. Handles the host
// did not allocate are ignored. Callers hold vm.mu.
func (vm *VM) retain(obj object) {
	if n, ok := vm.owned[obj.handle]; ok && obj.meta == nil {
		vm.owned[obj.handle] = n + 1
	}
}

func (vm *VM) drop(ctx context.Context, obj object) {
	if obj.meta != nil {
		return
	}
	n, ok := vm.owned[obj.handle]
	if !ok {
		return
	}
	if n > 1 {
		vm.owned[obj.handle] = n - 1
		return
	}
	delete(vm.owned, obj.handle)
	if _, err := vm.release.Call(ctx, uint64(obj.handle)); err != nil {
		Logger().Warn("guest release failed", zap.Uint32("handle", obj.handle), zap.Error(err))
	}
}

func (vm *VM) method(id managed.MethodID) *method {
	if id == 0 || int(id) > len(vm.methods) {
		return nil
	}
	return vm.methods[id-1]
}

func (vm *VM) field(id managed.FieldID) *field {
	if id == 0 || int(id) > len(vm.fields) {
		return nil
	}
	return vm.fields[id-1]
}

var _ managed.VM = (*VM)(nil)
