package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:     PhaseResolve,
				Kind:      KindNotFound,
				Type:      "com/example/Logger",
				Member:    "newEvent",
				Signature: "func(bytes) -> builder",
				Detail:    "no such method",
			},
			contains: []string{"[resolve]", "not_found", "com/example/Logger.newEvent", "func(bytes) -> builder", "no such method"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseInvoke,
				Kind:  KindRemoteException,
			},
			contains: []string{"[invoke]", "remote_exception"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindAllocation,
				Detail: "guest alloc",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "allocation", "guest alloc", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseConfig, KindInvalidData, cause, "decode")

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find cause in chain")
	}
}

func TestError_Is(t *testing.T) {
	err := NotFound(PhaseResolve, "java/lang/String", "", "")

	if !err.Is(&Error{Phase: PhaseResolve, Kind: KindNotFound}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseCapability, Kind: KindNotFound}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseResolve, Kind: KindRemoteException}) {
		t.Error("Is should not match different kind")
	}

	var target *Error
	if !errors.As(error(err), &target) || target.Type != "java/lang/String" {
		t.Errorf("errors.As = %v", target)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseResolve, KindSignatureMismatch).
		Type("Logger").
		Member("log").
		Signature("func()").
		Value(3).
		Cause(cause).
		Detail("expected %d params, got %d", 1, 3).
		Build()

	if err.Phase != PhaseResolve || err.Kind != KindSignatureMismatch {
		t.Errorf("Phase/Kind = %v/%v", err.Phase, err.Kind)
	}
	if err.Type != "Logger" || err.Member != "log" || err.Signature != "func()" {
		t.Errorf("Type/Member/Signature = %q/%q/%q", err.Type, err.Member, err.Signature)
	}
	if err.Value != 3 {
		t.Errorf("Value = %v, want 3", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected 1 params, got 3" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
		name  string
	}{
		{name: "Unavailable", err: Unavailable(2), phase: PhaseCapability, kind: KindCapabilityUnavailable},
		{name: "RemoteException", err: RemoteException(PhaseInvoke, "boom"), phase: PhaseInvoke, kind: KindRemoteException},
		{name: "AttachFailed", err: AttachFailed(-1, "no env"), phase: PhaseAttach, kind: KindAttachFailed},
		{name: "VersionMismatch", err: VersionMismatch(0x10006), phase: PhaseAttach, kind: KindVersionMismatch},
		{name: "NotInitialized", err: NotInitialized(PhaseInvoke, "bridge"), phase: PhaseInvoke, kind: KindNotInitialized},
		{name: "AlreadyInitialized", err: AlreadyInitialized("bridge"), phase: PhaseInit, kind: KindAlreadyInitialized},
		{name: "NilReference", err: NilReference(PhaseInit, "runtime"), phase: PhaseInit, kind: KindNilReference},
		{name: "OutOfBounds", err: OutOfBounds(PhaseMarshal, 4, 8, 10), phase: PhaseMarshal, kind: KindOutOfBounds},
		{name: "Instantiation", err: Instantiation(errors.New("x")), phase: PhaseRuntime, kind: KindInstantiation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
				t.Errorf("got %s/%s, want %s/%s", tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if v := Unavailable(9).Value; v != int32(9) {
		t.Errorf("Unavailable value = %v", v)
	}
	if d := OutOfBounds(PhaseMarshal, 4, 8, 10).Detail; !strings.Contains(d, "[4, 12)") {
		t.Errorf("OutOfBounds detail = %q", d)
	}
}
