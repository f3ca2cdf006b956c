package errors

import "testing"

var errWrapped = New("wrapped error")

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
	if !Is(err, errWrapped) {
		t.Fatalf("wrapped error should match its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "ignored"); err != nil {
		t.Fatalf("wrapping nil should stay nil, got %+v", err)
	}
}

func TestPersistenceErrorMatches(t *testing.T) {
	err := NewPersistence("portfolio append", 3, errWrapped)
	if !Is(err, ErrPersistence) {
		t.Fatalf("persistence error should match ErrPersistence")
	}
	if !Is(err, errWrapped) {
		t.Fatalf("persistence error should unwrap to its cause")
	}

	var pe *PersistenceError
	if !As(err, &pe) || pe.Attempts != 3 {
		t.Fatalf("persistence error lost attempt count: %+v", err)
	}
}
