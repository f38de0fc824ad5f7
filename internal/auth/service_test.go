package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndParseToken(t *testing.T) {
	svc, err := NewService(nil, "test-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	user := User{ID: uuid.New(), Email: "admin@example.org", Role: RoleAdmin}
	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != user.ID.String() || claims.Email != user.Email {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role")
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	issuer, _ := NewService(nil, "secret-a")
	other, _ := NewService(nil, "secret-b")

	token, err := issuer.IssueToken(User{ID: uuid.New(), Email: "m@example.org", Role: RoleMember})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := other.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := issuer.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestEphemeralSecret(t *testing.T) {
	svc, err := NewService(nil, "  ")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if len(svc.secret) == 0 {
		t.Fatalf("expected generated secret")
	}
	var member *Claims
	if member.IsAdmin() {
		t.Fatalf("nil claims must not be admin")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
