package auth

import "testing"

func TestGenerateRoomTokenMeetsLengthFloor(t *testing.T) {
	tok, err := GenerateRoomToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) < 24 {
		t.Fatalf("len(token) = %d, want >= 24", len(tok))
	}
}

func TestGenerateRoomIDMeetsLengthFloor(t *testing.T) {
	id, err := GenerateRoomID()
	if err != nil {
		t.Fatal(err)
	}
	if len(id) < 12 {
		t.Fatalf("len(id) = %d, want >= 12", len(id))
	}
}

func TestGenerateRoomTokenIsRandom(t *testing.T) {
	a, err := GenerateRoomToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateRoomToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two generated tokens must not collide")
	}
}

func TestConstantTimeEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "abcdef", "abcdef", true},
		{"different content, same length", "abcdef", "abcxyz", false},
		{"different length", "abc", "abcdef", false},
		{"both empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConstantTimeEquals(tt.a, tt.b); got != tt.want {
				t.Fatalf("ConstantTimeEquals(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
