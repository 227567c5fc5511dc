package memvm

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/clearcut-bridge/internal/reftab"
	"github.com/wippyai/clearcut-bridge/managed"
)

// Built-in class names.
const (
	StringClass    = managed.StringClass
	ByteArrayClass = managed.ByteArrayClass
	ClassClass     = managed.ClassClass
)

const globalTag = 1

// VM is an in-memory managed runtime whose classes are implemented in Go.
// It is safe for concurrent use.
type VM struct {
	classes    map[string]*Class
	envs       map[int64]*env
	faults     map[int64]managed.Status
	globals    *reftab.Table[*Object]
	stringCls  *Class
	bytesCls   *Class
	classCls   *Class
	methods    []*member
	fields     []*field
	nextTag    uint64
	attaches   atomic.Int64
	detaches   atomic.Int64
	mu         sync.Mutex
	maxVersion managed.Version
}

// Option configures a VM.
type Option func(*VM)

// WithMaxVersion sets the highest interface version Env accepts.
func WithMaxVersion(v managed.Version) Option {
	return func(vm *VM) {
		vm.maxVersion = v
	}
}

func New(opts ...Option) *VM {
	vm := &VM{
		classes:    make(map[string]*Class),
		envs:       make(map[int64]*env),
		faults:     make(map[int64]managed.Status),
		globals:    reftab.New[*Object](globalTag),
		nextTag:    globalTag + 1,
		maxVersion: managed.Version1_6,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.stringCls = vm.DefineClass(StringClass)
	vm.bytesCls = vm.DefineClass(ByteArrayClass)
	vm.classCls = vm.DefineClass(ClassClass)
	return vm
}

// DefineClass registers a class, or returns the existing one with that name.
func (vm *VM) DefineClass(name string) *Class {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if c, ok := vm.classes[name]; ok {
		return c
	}
	c := &Class{
		vm:      vm,
		name:    name,
		members: make(map[memberKey]*member),
		fields:  make(map[memberKey]*field),
	}
	vm.classes[name] = c
	return c
}

// Undefine removes a class so that FindClass no longer resolves it.
func (vm *VM) Undefine(name string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.classes, name)
}

func (vm *VM) Class(name string) *Class {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.classes[name]
}

// NewGlobal stores obj under a global reference, for handing objects
// created outside any Env (such as an application entry point) to callers.
func (vm *VM) NewGlobal(obj *Object) managed.Ref {
	if obj == nil {
		return managed.Null
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return managed.Ref(vm.globals.Put(obj))
}

// Global returns the object behind a global reference.
func (vm *VM) Global(ref managed.Ref) *Object {
	obj, _ := vm.global(uint64(ref))
	return obj
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
		thread: thread,
		locals: reftab.New[*Object](vm.nextTag),
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
	released := len(e.locals.Drain())
	e.detached = true
	vm.detaches.Add(1)

	Logger().Debug("thread detached", zap.Int64("thread", thread), zap.Int("released_locals", released))
	return managed.StatusOK
}

func (vm *VM) global(ref uint64) (*Object, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.globals.Get(ref)
}

func (vm *VM) method(id managed.MethodID) *member {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if id == 0 || int(id) > len(vm.methods) {
		return nil
	}
	return vm.methods[id-1]
}

func (vm *VM) field(id managed.FieldID) *field {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if id == 0 || int(id) > len(vm.fields) {
		return nil
	}
	return vm.fields[id-1]
}

var _ managed.VM = (*VM)(nil)
