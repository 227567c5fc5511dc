// Package wasmvm implements managed.VM on top of a WebAssembly guest run by
// wazero.
//
// Classes are described by a Binding that maps each method to a guest
// export. Objects are i32 handles chosen by the guest; instance methods
// receive the receiver handle as their first parameter. Export signatures
// are declared as WIT parameter lists and checked against the compiled
// guest when the VM is created:
//
//	binding := wasmvm.Binding{Classes: []wasmvm.ClassBinding{{
//		Name: "com/example/Counter",
//		Methods: []wasmvm.MethodBinding{{
//			Name:      "add",
//			Signature: "func(bytes) -> int",
//			Export:    "counter.add",
//			Params:    "self: s32, bytes: s32",
//			Result:    "s32",
//		}},
//	}}}
//
// Byte arrays and strings created by the host live in guest memory. The
// guest must export memory, alloc(size) -> ptr and release(ptr); each
// allocation starts with an 8 byte header holding the data length and a
// word reserved for the guest, followed by the data. An allocation is
// released once no local or global ref points at it.
//
// Guest traps become pending exceptions. All guest calls are serialized.
package wasmvm
