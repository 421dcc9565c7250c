package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestGenerateAndValidateJWT(t *testing.T) {
	token, exp, err := GenerateJWT("user_123", "ada@example.com", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	if exp <= time.Now().Unix() {
		t.Errorf("GenerateJWT() expiration %d is not in the future", exp)
	}

	claims, err := ValidateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.UserID() != "user_123" {
		t.Errorf("UserID() = %s, want user_123", claims.UserID())
	}
	if claims.Email != "ada@example.com" {
		t.Errorf("Email = %s, want ada@example.com", claims.Email)
	}
}

func TestValidateJWT_Rejects(t *testing.T) {
	expired, _, err := GenerateJWT("user_1", "", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	wrongKey, _, _ := GenerateJWT("user_1", "", []byte("other-secret"), time.Hour)
	noSubject, _, _ := GenerateJWT("", "", testSecret, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"no subject", noSubject},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateJWT(tt.token, testSecret); err == nil {
				t.Error("ValidateJWT() expected error, got nil")
			}
		})
	}
}

func TestRole_HasPermission(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleUser, true},
		{RoleUser, RoleUser, true},
		{RoleUser, RoleAdmin, false},
	}
	for _, tt := range tests {
		if got := tt.role.HasPermission(tt.required); got != tt.want {
			t.Errorf("%s.HasPermission(%s) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}

	if !RoleUser.IsValid() || Role("viewer").IsValid() {
		t.Error("IsValid() returned unexpected result")
	}
	if RoleFor(false) != RoleUser || RoleFor(true) != RoleAdmin {
		t.Error("RoleFor() returned unexpected role")
	}
}
