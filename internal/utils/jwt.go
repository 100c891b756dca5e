package utils

import (
	"fmt"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"

	"github.com/golang-jwt/jwt/v4"
)

// UserClaims represents JWT claims for socket users
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenVerifier resolves a bearer token to a user id
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// JWTVerifier verifies HS256 tokens signed with the configured secret
type JWTVerifier struct {
	secret []byte
	issuer string
	expiry time.Duration
}

func NewJWTVerifier(cfg config.JWTConfig) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expiry: time.Duration(cfg.ExpiryHour) * time.Hour,
	}
}

// GenerateUserJWT signs a token for userID. Used by local tooling and tests;
// production tokens are issued by the external auth service.
func (v *JWTVerifier) GenerateUserJWT(userID string) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// VerifyToken validates the token and returns its user id
func (v *JWTVerifier) VerifyToken(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", models.NewAuthError("token verification is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", &models.AppError{Kind: models.KindAuth, Message: "invalid token", Err: err}
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return "", models.NewAuthError("invalid token claims")
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", models.NewAuthError("unexpected token issuer")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", models.NewAuthError("token has no subject")
	}

	return userID, nil
}
