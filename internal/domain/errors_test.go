package domain

import (
	"errors"
	"testing"
)

func TestRoomErrorMessage(t *testing.T) {
	t.Parallel()

	err := &RoomError{RoomID: "r-1", Op: "authenticate", Err: ErrTokenMismatch}
	want := "room r-1: authenticate: token mismatch"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRoomErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &RoomError{RoomID: "r-2", Op: "authenticate", Err: ErrRoomNotFound}
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatal("expected errors.Is to match ErrRoomNotFound")
	}
}

func TestRoomErrorWithoutID(t *testing.T) {
	t.Parallel()

	err := &RoomError{Op: "create", Err: ErrInvalidName}
	want := "create: invalid name"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDocErrorMessage(t *testing.T) {
	t.Parallel()

	err := &DocError{DocName: "room1:notes.md", Op: "persist", Err: errors.New("disk full")}
	want := "doc room1:notes.md: persist: disk full"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDocErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &DocError{DocName: "room1:notes.md", Op: "load", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to match the wrapped error")
	}
}

func TestDocErrorWithoutName(t *testing.T) {
	t.Parallel()

	err := &DocError{Op: "persist", Err: ErrInvalidName}
	want := "persist: invalid name"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"room_not_found", ErrRoomNotFound, "room not found"},
		{"token_mismatch", ErrTokenMismatch, "token mismatch"},
		{"invalid_name", ErrInvalidName, "invalid name"},
		{"rate_limited", ErrRateLimited, "rate limit exceeded"},
		{"identity_required", ErrIdentityRequired, "identity token required"},
		{"identity_invalid", ErrIdentityInvalid, "identity token invalid"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
