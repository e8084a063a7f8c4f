package services

import (
	"errors"
	"testing"
	"time"

	"trivialive/models"
)

func TestVerifyTokenRoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret")
	want := models.Identity{UserID: "u-1", Email: "u1@example.com", Role: "player"}

	token, err := auth.GenerateToken(want, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	got, err := auth.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if *got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestVerifyTokenRejectsBadTokens(t *testing.T) {
	auth := NewAuthService("test-secret")
	other := NewAuthService("other-secret")

	identity := models.Identity{UserID: "u-1", Email: "u1@example.com", Role: "player"}

	wrongSecret, err := other.GenerateToken(identity, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	expired, err := auth.GenerateToken(identity, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	anonymous, err := auth.GenerateToken(models.Identity{}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong secret", wrongSecret},
		{"expired", expired},
		{"missing user id", anonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.VerifyToken(tt.token); !errors.Is(err, models.ErrUnauthorized) {
				t.Errorf("VerifyToken = %v, want ErrUnauthorized", err)
			}
		})
	}
}
