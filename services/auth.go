package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trivialive/models"
)

// AuthService verifies the signed identity tokens issued by the identity
// collaborator. The engine never handles credentials itself; it only checks
// the token signature and lifts out {userId, email, role}.
type AuthService struct {
	secret []byte
}

type identityClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// VerifyToken validates the token and returns the identity it carries.
func (a *AuthService) VerifyToken(tokenString string) (*models.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &identityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, models.ErrUnauthorized
	}
	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, models.ErrUnauthorized
	}
	return &models.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// GenerateToken mints a token for an identity. Used by tooling and tests;
// production tokens come from the identity collaborator.
func (a *AuthService) GenerateToken(identity models.Identity, ttl time.Duration) (string, error) {
	claims := identityClaims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
