package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("load presets: %w", New(Internal, CorruptedFile, "entry abc has no data"))
	if !IsKind(err, CorruptedFile) {
		t.Fatalf("expected CorruptedFile through wrapping")
	}
	if IsKind(err, NotFound) {
		t.Fatalf("unexpected NotFound match")
	}
	if KindOf(err) != CorruptedFile {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestOriginDefaults(t *testing.T) {
	if OriginOf(errors.New("plain")) != Unknown {
		t.Fatalf("plain errors should have unknown origin")
	}
	if KindOf(errors.New("plain")) != Other {
		t.Fatalf("plain errors should have kind Other")
	}
	if !IsUser(Userf(InvalidValue, "bad %s", "name")) {
		t.Fatalf("expected user origin")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, External, NotSent, "write failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if Message(err) != "write failed" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if err.Error() != "write failed: disk full" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
