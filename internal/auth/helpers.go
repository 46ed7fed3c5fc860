package auth

import (
	"errors"
	"strings"
	"time"

	"OpportunityFinder/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const resetSubject = "password-reset"

type JWTClaims struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Access string `json:"access"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens with JWT_KEY.
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenManager(cfg *config.Config) *TokenManager {
	return &TokenManager{key: []byte(cfg.JWTKey), ttl: cfg.JWTTTL, now: time.Now}
}

// GenerateJWT issues a session token valid for JWT_TTL.
func (m *TokenManager) GenerateJWT(name, email, access string) (string, error) {
	return m.sign(&JWTClaims{Name: name, Email: email, Access: access}, m.ttl)
}

// GenerateResetToken issues a short-lived token usable only for ResetPassword.
func (m *TokenManager) GenerateResetToken(email string, duration time.Duration) (string, error) {
	claims := &JWTClaims{Email: email}
	claims.Subject = resetSubject
	return m.sign(claims, duration)
}

func (m *TokenManager) sign(claims *JWTClaims, duration time.Duration) (string, error) {
	now := m.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(duration))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.key)
}

// Parse verifies a session token. Reset tokens are rejected.
func (m *TokenManager) Parse(tokenString string) (*JWTClaims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject == resetSubject {
		return nil, errors.New("reset token cannot be used as a session token")
	}
	return claims, nil
}

// ParseResetToken verifies a token issued by GenerateResetToken and returns its email.
func (m *TokenManager) ParseResetToken(tokenString string) (string, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject != resetSubject {
		return "", errors.New("not a reset token")
	}
	return claims.Email, nil
}

func (m *TokenManager) parse(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.key, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NormalizeEmail lower-cases and trims an address so it can be used as an identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
