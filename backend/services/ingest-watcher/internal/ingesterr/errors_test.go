package ingesterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfThroughWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("upsert: %w", Persistence("store unavailable", cause))

	if KindOf(err) != KindPersistence {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause lost in chain")
	}
	if Reason(err) != "store unavailable" {
		t.Fatalf("Reason = %q", Reason(err))
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Classification("unknown kind"), false},
		{MetadataUnavailable("missing drf_properties.h5", nil), true},
		{Lookup("instrument not registered", nil), true},
		{Persistence("store unavailable", nil), true},
		{errors.New("plain"), true},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := MetadataUnavailable("metadata read", errors.New("no such file"))
	if err.Error() != "metadata_unavailable: metadata read: no such file" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("nil error should have unknown kind")
	}
}
