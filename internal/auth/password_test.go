package auth

import "testing"

func TestHashPassword(t *testing.T) {
	password := "correct horse battery staple"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == password {
		t.Error("HashPassword() returned the plaintext")
	}

	t.Run("matching password", func(t *testing.T) {
		if err := VerifyPassword(password, hash); err != nil {
			t.Errorf("VerifyPassword() error = %v, want nil", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if err := VerifyPassword("wrong", hash); err != ErrInvalidCredentials {
			t.Errorf("VerifyPassword() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("empty password rejected", func(t *testing.T) {
		if _, err := HashPassword(""); err == nil {
			t.Error("HashPassword() error = nil for empty password, want error")
		}
	})
}

func TestRole(t *testing.T) {
	if !Role("admin").IsValid() {
		t.Error("admin should be valid")
	}
	if Role("root").IsValid() {
		t.Error("root should not be valid")
	}

	if !RoleAdmin.HasPermission(RoleViewer) {
		t.Error("admin should satisfy viewer")
	}
	if RoleViewer.HasPermission(RoleAdmin) {
		t.Error("viewer should not satisfy admin")
	}
	if !RoleUser.HasPermission(RoleUser) {
		t.Error("user should satisfy itself")
	}
}
