package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenTTL = 24 * time.Hour

// AuthUsecase guards the HTTP API with a single operator account.
// It is disabled when no secret is configured.
type AuthUsecase struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	now          func() time.Time
}

func NewAuthUsecase(username, passwordHash, secret string) *AuthUsecase {
	return &AuthUsecase{
		username:     username,
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(secret),
		now:          time.Now,
	}
}

func (uc *AuthUsecase) Enabled() bool {
	return uc != nil && len(uc.jwtSecret) > 0
}

func (uc *AuthUsecase) Login(username, password string) (string, error) {
	if username != uc.username || len(uc.passwordHash) == 0 {
		return "", ErrInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword(uc.passwordHash, []byte(password))
	if err != nil {
		return "", ErrInvalidCredentials
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": "admin",
		"exp":  uc.now().Add(tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}

	return tokenString, nil
}

// Verify checks signature and expiry and returns the token subject
func (uc *AuthUsecase) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return uc.jwtSecret, nil
	}, jwt.WithTimeFunc(uc.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// HashPassword produces a value for API_ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
