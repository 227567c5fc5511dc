package wasmvm

import (
	"context"
	"fmt"

	"github.com/wippyai/clearcut-bridge/internal/reftab"
	"github.com/wippyai/clearcut-bridge/managed"
)

type env struct {
	ctx      context.Context
	vm       *VM
	locals   *reftab.Table[object]
	pending  *managed.Throwable
	thread   int64
	detached bool
}

func (e *env) VM() managed.VM {
	return e.vm
}

func (e *env) raise(class, format string, args ...any) {
	if e.pending != nil {
		return
	}
	e.pending = managed.Throw(class, fmt.Sprintf(format, args...))
}

// local wraps obj in a new local ref. Callers hold vm.mu.
func (e *env) local(obj object) managed.Ref {
	e.vm.retain(obj)
	return managed.Ref(e.locals.Put(obj))
}

// deref resolves a local or global ref. Callers hold vm.mu.
func (e *env) deref(ref managed.Ref) (object, bool) {
	if ref == managed.Null {
		return object{}, false
	}
	if e.detached {
		e.raise(managed.ErrIllegalArgument, "env used after detach")
		return object{}, false
	}
	if obj, ok := e.locals.Get(uint64(ref)); ok {
		return obj, true
	}
	if obj, ok := e.vm.globals.Get(uint64(ref)); ok {
		return obj, true
	}
	e.raise(managed.ErrIllegalArgument, "invalid reference %#x", uint64(ref))
	return object{}, false
}

func (e *env) classOf(ref managed.Ref) *class {
	obj, ok := e.deref(ref)
	if !ok {
		if e.pending == nil {
			e.raise(managed.ErrNullPointer, "class is null")
		}
		return nil
	}
	if obj.meta == nil {
		e.raise(managed.ErrIllegalArgument, "%s is not a class", obj.class.name)
		return nil
	}
	return obj.meta
}

func (e *env) FindClass(name string) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	c, ok := e.vm.classes[name]
	if !ok {
		e.raise(managed.ErrNoClassDef, "%s", name)
		return managed.Null
	}
	return e.local(object{class: e.vm.classCls, meta: c})
}

func (e *env) ObjectClass(obj managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	o, ok := e.deref(obj)
	if !ok {
		if e.pending == nil {
			e.raise(managed.ErrNullPointer, "object is null")
		}
		return managed.Null
	}
	return e.local(object{class: e.vm.classCls, meta: o.class})
}

func (e *env) MethodID(cls managed.Ref, name, sig string) managed.MethodID {
	return e.lookupMethod(cls, name, sig, false)
}

func (e *env) StaticMethodID(cls managed.Ref, name, sig string) managed.MethodID {
	return e.lookupMethod(cls, name, sig, true)
}

func (e *env) lookupMethod(cls managed.Ref, name, sig string, static bool) managed.MethodID {
	if e.pending != nil {
		return 0
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	c := e.classOf(cls)
	if c == nil {
		return 0
	}
	m, ok := c.methods[memberKey{name: name, sig: sig, static: static}]
	if !ok {
		e.raise(managed.ErrNoSuchMethod, "%s.%s %s", c.name, name, sig)
		return 0
	}
	return m.id
}

func (e *env) StaticFieldID(cls managed.Ref, name, sig string) managed.FieldID {
	if e.pending != nil {
		return 0
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	c := e.classOf(cls)
	if c == nil {
		return 0
	}
	f, ok := c.fields[memberKey{name: name, sig: sig, static: true}]
	if !ok {
		e.raise(managed.ErrNoSuchField, "%s.%s %s", c.name, name, sig)
		return 0
	}
	return f.id
}

type callKind int

const (
	callInstance callKind = iota
	callStatic
	callConstructor
)

// invoke runs m in the guest and returns its raw result. Callers hold vm.mu.
func (e *env) invoke(kind callKind, target managed.Ref, id managed.MethodID, args []managed.Ref) (*method, uint32, bool) {
	m := e.vm.method(id)
	if m == nil {
		e.raise(managed.ErrNoSuchMethod, "unknown method id %d", id)
		return nil, 0, false
	}

	var params []uint64
	switch kind {
	case callInstance:
		if m.static {
			e.raise(managed.ErrIllegalArgument, "%s.%s is static", m.class.name, m.name)
			return nil, 0, false
		}
		self, ok := e.deref(target)
		if !ok {
			if e.pending == nil {
				e.raise(managed.ErrNullPointer, "receiver of %s.%s is null", m.class.name, m.name)
			}
			return nil, 0, false
		}
		if self.class != m.class {
			e.raise(managed.ErrIllegalArgument, "receiver is %s, not %s", self.class.name, m.class.name)
			return nil, 0, false
		}
		params = append(params, uint64(self.handle))
	case callStatic, callConstructor:
		c := e.classOf(target)
		if c == nil {
			return nil, 0, false
		}
		if c != m.class {
			e.raise(managed.ErrIllegalArgument, "%s.%s does not belong to %s", m.class.name, m.name, c.name)
			return nil, 0, false
		}
		if (kind == callConstructor) != (m.name == managed.Constructor) || !m.static {
			e.raise(managed.ErrIllegalArgument, "%s.%s cannot be called this way", m.class.name, m.name)
			return nil, 0, false
		}
	}

	for i, arg := range args {
		if arg == managed.Null {
			params = append(params, 0)
			continue
		}
		o, ok := e.deref(arg)
		if !ok {
			return nil, 0, false
		}
		if o.meta != nil {
			e.raise(managed.ErrIllegalArgument, "argument %d is a class", i)
			return nil, 0, false
		}
		params = append(params, uint64(o.handle))
	}

	if want := len(m.fn.Definition().ParamTypes()); want != len(params) {
		e.raise(managed.ErrIllegalArgument, "%s.%s takes %d values, got %d", m.class.name, m.name, want, len(params))
		return nil, 0, false
	}

	res, err := m.fn.Call(e.ctx, params...)
	if err != nil {
		e.raise(managed.ErrRuntime, "%s.%s: %v", m.class.name, m.name, err)
		return nil, 0, false
	}
	if !m.returns {
		return m, 0, true
	}
	return m, uint32(res[0]), true
}

func (e *env) resultRef(m *method, handle uint32) managed.Ref {
	if m.resultClass == nil {
		e.raise(managed.ErrIllegalArgument, "%s.%s does not return an object", m.class.name, m.name)
		return managed.Null
	}
	if handle == 0 {
		return managed.Null
	}
	return e.local(object{class: m.resultClass, handle: handle})
}

func (e *env) CallObjectMethod(obj managed.Ref, id managed.MethodID, args ...managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	m, h, ok := e.invoke(callInstance, obj, id, args)
	if !ok {
		return managed.Null
	}
	return e.resultRef(m, h)
}

func (e *env) CallIntMethod(obj managed.Ref, id managed.MethodID, args ...managed.Ref) int32 {
	if e.pending != nil {
		return 0
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	m, h, ok := e.invoke(callInstance, obj, id, args)
	if !ok {
		return 0
	}
	if m.resultClass != nil || !m.returns {
		e.raise(managed.ErrIllegalArgument, "%s.%s does not return an int", m.class.name, m.name)
		return 0
	}
	return int32(h)
}

func (e *env) CallVoidMethod(obj managed.Ref, id managed.MethodID, args ...managed.Ref) {
	if e.pending != nil {
		return
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	e.invoke(callInstance, obj, id, args)
}

func (e *env) CallStaticObjectMethod(cls managed.Ref, id managed.MethodID, args ...managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	m, h, ok := e.invoke(callStatic, cls, id, args)
	if !ok {
		return managed.Null
	}
	return e.resultRef(m, h)
}

func (e *env) NewObject(cls managed.Ref, ctor managed.MethodID, args ...managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	m, h, ok := e.invoke(callConstructor, cls, ctor, args)
	if !ok {
		return managed.Null
	}
	if h == 0 {
		e.raise(managed.ErrRuntime, "%s constructor returned null", m.class.name)
		return managed.Null
	}
	return e.resultRef(m, h)
}

func (e *env) StaticIntField(cls managed.Ref, id managed.FieldID) int32 {
	if e.pending != nil {
		return 0
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	c := e.classOf(cls)
	if c == nil {
		return 0
	}
	f := e.vm.field(id)
	if f == nil || f.class != c {
		e.raise(managed.ErrNoSuchField, "unknown field id %d on %s", id, c.name)
		return 0
	}
	return int32(uint32(f.global.Get()))
}

func (e *env) NewByteArray(length int) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	if length < 0 {
		e.raise(managed.ErrNegativeSize, "%d", length)
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	ptr, ok := e.allocate(length)
	if !ok {
		return managed.Null
	}
	// the guest allocator reuses memory
	if length > 0 && !e.vm.module.Memory().Write(ptr+headerSize, make([]byte, length)) {
		e.raise(managed.ErrOutOfMemory, "array of %d bytes at %#x", length, ptr)
		return managed.Null
	}
	return e.local(object{class: e.vm.bytesCls, handle: ptr})
}

func (e *env) SetByteArrayRegion(arr managed.Ref, offset int, data []byte) {
	if e.pending != nil {
		return
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	o, ok := e.deref(arr)
	if !ok {
		if e.pending == nil {
			e.raise(managed.ErrNullPointer, "array is null")
		}
		return
	}
	if o.class != e.vm.bytesCls {
		e.raise(managed.ErrIllegalArgument, "%s is not a byte array", o.class.name)
		return
	}
	mem := e.vm.module.Memory()
	length, ok := mem.ReadUint32Le(o.handle)
	if !ok {
		e.raise(managed.ErrIllegalArgument, "array header at %#x unreadable", o.handle)
		return
	}
	if offset < 0 || offset+len(data) > int(length) {
		e.raise(managed.ErrIndexOutOfBounds, "region [%d, %d) of array of length %d", offset, offset+len(data), length)
		return
	}
	if !mem.Write(o.handle+headerSize+uint32(offset), data) {
		e.raise(managed.ErrIndexOutOfBounds, "array at %#x outside guest memory", o.handle)
	}
}

func (e *env) NewString(s string) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	ptr, ok := e.allocate(len(s))
	if !ok {
		return managed.Null
	}
	if !e.vm.module.Memory().WriteString(ptr+headerSize, s) {
		e.raise(managed.ErrOutOfMemory, "string of %d bytes at %#x", len(s), ptr)
		return managed.Null
	}
	return e.local(object{class: e.vm.stringCls, handle: ptr})
}

func (e *env) allocate(size int) (uint32, bool) {
	if e.detached {
		e.raise(managed.ErrIllegalArgument, "env used after detach")
		return 0, false
	}
	ptr, err := e.vm.allocate(e.ctx, size)
	if err != nil {
		e.raise(managed.ErrOutOfMemory, "allocate %d bytes: %v", size, err)
		return 0, false
	}
	return ptr, true
}

func (e *env) NewGlobalRef(obj managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	o, ok := e.deref(obj)
	if !ok {
		return managed.Null
	}
	e.vm.retain(o)
	return managed.Ref(e.vm.globals.Put(o))
}

func (e *env) DeleteGlobalRef(obj managed.Ref) {
	if obj == managed.Null {
		return
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	if o, ok := e.vm.globals.Delete(uint64(obj)); ok {
		e.vm.drop(e.ctx, o)
	}
}

func (e *env) DeleteLocalRef(obj managed.Ref) {
	if obj == managed.Null {
		return
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()

	if o, ok := e.locals.Delete(uint64(obj)); ok {
		e.vm.drop(e.ctx, o)
	}
}

func (e *env) ExceptionCheck() bool {
	return e.pending != nil
}

func (e *env) ExceptionDescribe() string {
	if e.pending == nil {
		return ""
	}
	return e.pending.Error()
}

func (e *env) ExceptionClear() {
	e.pending = nil
}

var _ managed.Env = (*env)(nil)
