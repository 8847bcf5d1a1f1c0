package usecases

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) *AuthUsecase {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return NewAuthUsecase("admin", string(hashed), "jwt-secret")
}

func TestAuthLoginAndVerify(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)
	token, err := auth.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	subject, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("unexpected subject: %s", subject)
	}
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)
	if _, err := auth.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := auth.Login("root", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestAuthRejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)
	issued := time.Now().Add(-48 * time.Hour)
	auth.now = func() time.Time { return issued }
	token, err := auth.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	auth.now = time.Now
	if _, err := auth.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other := NewAuthUsecase("admin", "", "another-secret")
	fresh, err := newTestAuth(t).Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := other.Verify(fresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token signed with another secret to be rejected, got %v", err)
	}
}

func TestAuthEnabled(t *testing.T) {
	t.Parallel()

	if NewAuthUsecase("admin", "", "").Enabled() {
		t.Fatal("expected auth to be disabled without a secret")
	}
	if !newTestAuth(t).Enabled() {
		t.Fatal("expected auth to be enabled with a secret")
	}
	var nilAuth *AuthUsecase
	if nilAuth.Enabled() {
		t.Fatal("expected nil auth to be disabled")
	}
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	hashed, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte("pw")) != nil {
		t.Fatal("expected hash to verify")
	}
}
