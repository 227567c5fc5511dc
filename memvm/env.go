package memvm

import (
	"errors"
	"fmt"

	"github.com/wippyai/clearcut-bridge/internal/reftab"
	"github.com/wippyai/clearcut-bridge/managed"
)

type env struct {
	vm       *VM
	locals   *reftab.Table[*Object]
	pending  *managed.Throwable
	thread   int64
	detached bool
}

func (e *env) VM() managed.VM {
	return e.vm
}

func (e *env) FindClass(name string) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	cls := e.vm.Class(name)
	if cls == nil {
		e.throw(managed.ErrNoClassDef, name)
		return managed.Null
	}
	return e.local(e.vm.classCls.New(cls))
}

func (e *env) ObjectClass(obj managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	o, ok := e.deref(obj)
	if !ok {
		return managed.Null
	}
	if o == nil {
		e.throw(managed.ErrNullPointer, "ObjectClass on null reference")
		return managed.Null
	}
	return e.local(e.vm.classCls.New(o.Class))
}

func (e *env) MethodID(cls managed.Ref, name, sig string) managed.MethodID {
	return e.methodID(cls, name, sig, false)
}

func (e *env) StaticMethodID(cls managed.Ref, name, sig string) managed.MethodID {
	return e.methodID(cls, name, sig, true)
}

func (e *env) methodID(clsRef managed.Ref, name, sig string, static bool) managed.MethodID {
	if e.pending != nil {
		return 0
	}
	cls := e.class(clsRef)
	if cls == nil {
		return 0
	}
	m := cls.lookupMethod(name, sig, static)
	if m == nil {
		e.throw(managed.ErrNoSuchMethod, fmt.Sprintf("%s.%s %s", cls.name, name, sig))
		return 0
	}
	return m.id
}

func (e *env) StaticFieldID(clsRef managed.Ref, name, sig string) managed.FieldID {
	if e.pending != nil {
		return 0
	}
	cls := e.class(clsRef)
	if cls == nil {
		return 0
	}
	f := cls.lookupField(name, sig)
	if f == nil {
		e.throw(managed.ErrNoSuchField, fmt.Sprintf("%s.%s %s", cls.name, name, sig))
		return 0
	}
	return f.id
}

func (e *env) CallObjectMethod(obj managed.Ref, m managed.MethodID, args ...managed.Ref) managed.Ref {
	v, ok := e.invoke(obj, m, false, args)
	if !ok {
		return managed.Null
	}
	return e.toRef(v)
}

func (e *env) CallIntMethod(obj managed.Ref, m managed.MethodID, args ...managed.Ref) int32 {
	v, ok := e.invoke(obj, m, false, args)
	if !ok {
		return 0
	}
	return e.toInt(v)
}

func (e *env) CallVoidMethod(obj managed.Ref, m managed.MethodID, args ...managed.Ref) {
	e.invoke(obj, m, false, args)
}

func (e *env) CallStaticObjectMethod(cls managed.Ref, m managed.MethodID, args ...managed.Ref) managed.Ref {
	v, ok := e.invoke(cls, m, true, args)
	if !ok {
		return managed.Null
	}
	return e.toRef(v)
}

func (e *env) NewObject(clsRef managed.Ref, ctor managed.MethodID, args ...managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	cls := e.class(clsRef)
	if cls == nil {
		return managed.Null
	}
	m := e.vm.method(ctor)
	if m == nil || m.name != managed.Constructor || m.class != cls {
		e.throw(managed.ErrNoSuchMethod, fmt.Sprintf("%s has no constructor with id %d", cls.name, ctor))
		return managed.Null
	}
	objs, ok := e.resolveArgs(args)
	if !ok {
		return managed.Null
	}
	v, err := m.fn(&Call{Args: objs, Thread: e.thread})
	if err != nil {
		e.raise(err)
		return managed.Null
	}
	return e.local(cls.New(v))
}

func (e *env) StaticIntField(clsRef managed.Ref, id managed.FieldID) int32 {
	if e.pending != nil {
		return 0
	}
	cls := e.class(clsRef)
	if cls == nil {
		return 0
	}
	f := e.vm.field(id)
	if f == nil || f.class != cls {
		e.throw(managed.ErrNoSuchField, fmt.Sprintf("%s has no field with id %d", cls.name, id))
		return 0
	}
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()
	return f.value
}

func (e *env) NewByteArray(length int) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	if length < 0 {
		e.throw(managed.ErrNegativeSize, fmt.Sprintf("%d", length))
		return managed.Null
	}
	return e.local(e.vm.bytesCls.New(make([]byte, length)))
}

func (e *env) SetByteArrayRegion(arr managed.Ref, offset int, data []byte) {
	if e.pending != nil {
		return
	}
	o, ok := e.deref(arr)
	if !ok {
		return
	}
	if o == nil {
		e.throw(managed.ErrNullPointer, "SetByteArrayRegion on null array")
		return
	}
	buf, isBytes := o.Value.([]byte)
	if !isBytes {
		e.throw(managed.ErrIllegalArgument, o.Class.name+" is not a byte array")
		return
	}
	if offset < 0 || offset+len(data) > len(buf) {
		e.throw(managed.ErrIndexOutOfBounds, fmt.Sprintf("region [%d, %d) of length %d", offset, offset+len(data), len(buf)))
		return
	}
	copy(buf[offset:], data)
}

func (e *env) NewString(s string) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	return e.local(e.vm.stringCls.New(s))
}

func (e *env) NewGlobalRef(obj managed.Ref) managed.Ref {
	if e.pending != nil {
		return managed.Null
	}
	o, ok := e.deref(obj)
	if !ok || o == nil {
		return managed.Null
	}
	return e.vm.NewGlobal(o)
}

func (e *env) DeleteGlobalRef(obj managed.Ref) {
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()
	e.vm.globals.Delete(uint64(obj))
}

func (e *env) DeleteLocalRef(obj managed.Ref) {
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()
	e.locals.Delete(uint64(obj))
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

func (e *env) invoke(target managed.Ref, id managed.MethodID, static bool, args []managed.Ref) (any, bool) {
	if e.pending != nil {
		return nil, false
	}
	m := e.vm.method(id)
	if m == nil || m.name == managed.Constructor {
		e.throw(managed.ErrNoSuchMethod, fmt.Sprintf("invalid method id %d", id))
		return nil, false
	}
	if m.static != static {
		e.throw(managed.ErrIllegalArgument, fmt.Sprintf("%s.%s static mismatch", m.class.name, m.name))
		return nil, false
	}

	call := &Call{Thread: e.thread}
	if static {
		cls := e.class(target)
		if cls == nil {
			return nil, false
		}
		if cls != m.class {
			e.throw(managed.ErrIllegalArgument, fmt.Sprintf("%s.%s called on %s", m.class.name, m.name, cls.name))
			return nil, false
		}
	} else {
		self, ok := e.deref(target)
		if !ok {
			return nil, false
		}
		if self == nil {
			e.throw(managed.ErrNullPointer, fmt.Sprintf("%s.%s on null receiver", m.class.name, m.name))
			return nil, false
		}
		if self.Class != m.class {
			e.throw(managed.ErrIllegalArgument, fmt.Sprintf("%s.%s called on %s", m.class.name, m.name, self.Class.name))
			return nil, false
		}
		call.Self = self
	}

	objs, ok := e.resolveArgs(args)
	if !ok {
		return nil, false
	}
	call.Args = objs

	v, err := m.fn(call)
	if err != nil {
		e.raise(err)
		return nil, false
	}
	return v, true
}

func (e *env) resolveArgs(args []managed.Ref) ([]*Object, bool) {
	objs := make([]*Object, len(args))
	for i, ref := range args {
		o, ok := e.deref(ref)
		if !ok {
			return nil, false
		}
		objs[i] = o
	}
	return objs, true
}

// class resolves a reference to a class object.
func (e *env) class(ref managed.Ref) *Class {
	o, ok := e.deref(ref)
	if !ok {
		return nil
	}
	if o == nil {
		e.throw(managed.ErrNullPointer, "null class reference")
		return nil
	}
	cls, isClass := o.Value.(*Class)
	if !isClass || o.Class != e.vm.classCls {
		e.throw(managed.ErrIllegalArgument, o.Class.name+" is not a class")
		return nil
	}
	return cls
}

// deref resolves ref; it raises and returns false for refs that belong to
// no live table.
func (e *env) deref(ref managed.Ref) (*Object, bool) {
	if ref == managed.Null {
		return nil, true
	}
	e.vm.mu.Lock()
	var (
		o  *Object
		ok bool
	)
	if e.detached {
		e.vm.mu.Unlock()
		e.throw(managed.ErrIllegalArgument, "env used after its thread detached")
		return nil, false
	}
	if e.locals.Owns(uint64(ref)) {
		o, ok = e.locals.Get(uint64(ref))
	} else {
		o, ok = e.vm.globals.Get(uint64(ref))
	}
	e.vm.mu.Unlock()

	if !ok {
		e.throw(managed.ErrIllegalArgument, fmt.Sprintf("invalid reference %#x", uint64(ref)))
		return nil, false
	}
	return o, true
}

func (e *env) local(o *Object) managed.Ref {
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()
	return managed.Ref(e.locals.Put(o))
}

func (e *env) toRef(v any) managed.Ref {
	switch x := v.(type) {
	case nil:
		return managed.Null
	case *Object:
		if x == nil {
			return managed.Null
		}
		return e.local(x)
	case string:
		return e.local(e.vm.stringCls.New(x))
	case []byte:
		return e.local(e.vm.bytesCls.New(append([]byte(nil), x...)))
	default:
		e.throw(managed.ErrIllegalArgument, fmt.Sprintf("method returned %T where an object was expected", v))
		return managed.Null
	}
}

func (e *env) toInt(v any) int32 {
	switch x := v.(type) {
	case int32:
		return x
	case int:
		return int32(x)
	default:
		e.throw(managed.ErrIllegalArgument, fmt.Sprintf("method returned %T where an int was expected", v))
		return 0
	}
}

func (e *env) throw(class, msg string) {
	e.pending = managed.Throw(class, msg)
}

func (e *env) raise(err error) {
	var t *managed.Throwable
	if errors.As(err, &t) {
		e.pending = t
		return
	}
	e.pending = managed.Throw(managed.ErrRuntime, err.Error())
}

var _ managed.Env = (*env)(nil)
