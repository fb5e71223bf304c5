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
				Phase:  PhaseDecode,
				Kind:   KindTypeMismatch,
				Path:   []string{"args", "0", "when"},
				GoType: "string",
				Detail: "cannot convert",
			},
			contains: []string{"[decode]", "type_mismatch", "args.0.when", "string", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseHeap,
				Kind:  KindInvalidHeapAddress,
			},
			contains: []string{"[heap]", "invalid_heap_address"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseGuest,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[guest]", "allocation", "memory full", "caused by", "underlying error"},
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
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseHandle,
		Kind:  KindDoubleFree,
	}

	if !err.Is(&Error{Phase: PhaseHandle, Kind: KindDoubleFree}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDispatch, Kind: KindDoubleFree}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseHandle, Kind: KindUnknownHandle}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrDoubleFree) {
		t.Error("errors.Is should match phase-less sentinel")
	}
	if errors.Is(err, ErrUnknownHandle) {
		t.Error("errors.Is should not match sentinel of another kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseDecode, KindTypeMismatch).
		Path("args", "1").
		GoType("string").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "text", "number").
		Build()

	if err.Phase != PhaseDecode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseDecode)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "args" || err.Path[1] != "1" {
		t.Errorf("Path = %v, want [args 1]", err.Path)
	}
	if err.GoType != "string" {
		t.Errorf("GoType = %v, want 'string'", err.GoType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected text, got number" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("UnknownAssembly", func(t *testing.T) {
		err := UnknownAssembly("Missing")
		if err.Kind != KindLookup {
			t.Errorf("Kind = %v, want %v", err.Kind, KindLookup)
		}
		if err.Message() != "There is no loaded assembly with the name 'Missing'." {
			t.Errorf("Message = %q", err.Message())
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		err := UnknownMethod("Test", "Nope")
		want := `The assembly 'Test' does not contain a public invokable method with identifier "Nope".`
		if err.Message() != want {
			t.Errorf("Message = %q, want %q", err.Message(), want)
		}
	})

	t.Run("RangeOverflow", func(t *testing.T) {
		err := RangeOverflow(64, 1<<21)
		if err.Kind != KindRangeOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindRangeOverflow)
		}
		if !strings.Contains(err.Detail, "2097152") {
			t.Errorf("Detail = %v, should contain high part", err.Detail)
		}
	})

	t.Run("OutstandingRefs", func(t *testing.T) {
		err := OutstandingRefs(PhaseHandle, 3, 2)
		if !errors.Is(err, ErrOutstandingRefs) {
			t.Error("should match ErrOutstandingRefs")
		}
		if err.Value != uint64(3) {
			t.Errorf("Value = %v, want 3", err.Value)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseGuest, 1024, 8)
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("NoPendingPayload", func(t *testing.T) {
		err := NoPendingPayload()
		if !errors.Is(err, ErrNoPendingPayload) {
			t.Error("should match ErrNoPendingPayload")
		}
	})

	t.Run("UnknownFunction on object", func(t *testing.T) {
		err := UnknownFunction("add", 9)
		if !strings.Contains(err.Detail, "host object 9") {
			t.Errorf("Detail = %v", err.Detail)
		}
	})
}

func TestIsTaxonomy(t *testing.T) {
	for _, name := range []string{"lookup", "double_free", "range_overflow", "no_pending_payload"} {
		if !IsTaxonomy(name) {
			t.Errorf("IsTaxonomy(%q) = false", name)
		}
	}
	for _, name := range []string{"", "Error", "Panic", "instantiation"} {
		if IsTaxonomy(name) {
			t.Errorf("IsTaxonomy(%q) = true", name)
		}
	}
}
