package memvm

import (
	"fmt"

	"github.com/wippyai/clearcut-bridge/managed"
)

// Func implements a method, constructor or static method. A constructor's
// return value becomes the new object's Value. Returning a
// *managed.Throwable raises that exception; any other error is raised as a
// RuntimeException.
type Func func(c *Call) (any, error)

// Object is an instance living in the VM.
type Object struct {
	Class *Class
	Value any
}

// Class is a type registered with DefineClass.
type Class struct {
	vm      *VM
	members map[memberKey]*member
	fields  map[memberKey]*field
	name    string
}

type memberKey struct {
	name   string
	sig    string
	static bool
}

type member struct {
	class  *Class
	fn     Func
	name   string
	sig    string
	id     managed.MethodID
	static bool
}

type field struct {
	class *Class
	name  string
	sig   string
	id    managed.FieldID
	value int32
}

func (c *Class) Name() string {
	return c.name
}

// Constructor registers a constructor with the given signature.
func (c *Class) Constructor(sig string, fn Func) *Class {
	return c.define(managed.Constructor, sig, false, fn)
}

// Method registers an instance method.
func (c *Class) Method(name, sig string, fn Func) *Class {
	return c.define(name, sig, false, fn)
}

// StaticMethod registers a static method.
func (c *Class) StaticMethod(name, sig string, fn Func) *Class {
	return c.define(name, sig, true, fn)
}

// StaticInt registers a static int field.
func (c *Class) StaticInt(name, sig string, value int32) *Class {
	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()

	key := memberKey{name: name, sig: sig, static: true}
	if f, ok := c.fields[key]; ok {
		f.value = value
		return c
	}
	f := &field{class: c, name: name, sig: sig, value: value}
	c.vm.fields = append(c.vm.fields, f)
	f.id = managed.FieldID(len(c.vm.fields))
	c.fields[key] = f
	return c
}

// Remove drops every method and field called name. Resolved IDs for them
// stop working.
func (c *Class) Remove(name string) *Class {
	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()

	for key, m := range c.members {
		if key.name == name {
			c.vm.methods[m.id-1] = nil
			delete(c.members, key)
		}
	}
	for key, f := range c.fields {
		if key.name == name {
			c.vm.fields[f.id-1] = nil
			delete(c.fields, key)
		}
	}
	return c
}

// New returns an instance of the class wrapping value.
func (c *Class) New(value any) *Object {
	return &Object{Class: c, Value: value}
}

func (c *Class) define(name, sig string, static bool, fn Func) *Class {
	if fn == nil {
		panic(fmt.Sprintf("memvm: nil func for %s.%s", c.name, name))
	}

	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()

	key := memberKey{name: name, sig: sig, static: static}
	if m, ok := c.members[key]; ok {
		m.fn = fn
		return c
	}
	m := &member{class: c, name: name, sig: sig, static: static, fn: fn}
	c.vm.methods = append(c.vm.methods, m)
	m.id = managed.MethodID(len(c.vm.methods))
	c.members[key] = m
	return c
}

func (c *Class) lookupMethod(name, sig string, static bool) *member {
	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()
	return c.members[memberKey{name: name, sig: sig, static: static}]
}

func (c *Class) lookupField(name, sig string) *field {
	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()
	return c.fields[memberKey{name: name, sig: sig, static: true}]
}

// Call carries the receiver and arguments of one invocation.
type Call struct {
	Self   *Object
	Args   []*Object
	Thread int64
}

// Arg returns argument i, or nil when it is null or missing.
func (c *Call) Arg(i int) *Object {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// String returns argument i as a string.
func (c *Call) String(i int) (string, error) {
	o := c.Arg(i)
	if o == nil {
		return "", managed.Throw(managed.ErrNullPointer, fmt.Sprintf("argument %d is null", i))
	}
	s, ok := o.Value.(string)
	if !ok {
		return "", managed.Throw(managed.ErrIllegalArgument, fmt.Sprintf("argument %d is %s, not a string", i, o.Class.name))
	}
	return s, nil
}

// Bytes returns argument i as a byte array. The slice aliases VM memory.
func (c *Call) Bytes(i int) ([]byte, error) {
	o := c.Arg(i)
	if o == nil {
		return nil, managed.Throw(managed.ErrNullPointer, fmt.Sprintf("argument %d is null", i))
	}
	b, ok := o.Value.([]byte)
	if !ok {
		return nil, managed.Throw(managed.ErrIllegalArgument, fmt.Sprintf("argument %d is %s, not a byte array", i, o.Class.name))
	}
	return b, nil
}
