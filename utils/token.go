package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"collab-messenger/config"
	"collab-messenger/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const signingAlg = "HS512"

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	ID  uint
	Otp bool
	Exp int64
}

// TokenManager signs and verifies access and refresh tokens. The otp claim is
// true while a second factor is still pending for the session.
type TokenManager struct {
	accessKey     []byte
	refreshKey    []byte
	accessExpire  time.Duration
	refreshExpire time.Duration
}

func NewTokenManager(cfg *config.Config) *TokenManager {
	return &TokenManager{
		accessKey:     []byte(cfg.JWTAccessKey),
		refreshKey:    []byte(cfg.JWTRefreshKey),
		accessExpire:  cfg.JWTAccessExpire,
		refreshExpire: cfg.JWTRefreshExpire,
	}
}

func (m *TokenManager) AccessKey() []byte {
	return m.accessKey
}

// Generate creates a new access and refresh pair.
func (m *TokenManager) Generate(id uint, otp bool) (*Tokens, error) {
	access, err := sign(id, otp, m.accessExpire, m.accessKey)
	if err != nil {
		return nil, err
	}
	refresh, err := sign(id, otp, m.refreshExpire, m.refreshKey)
	if err != nil {
		return nil, err
	}
	return &Tokens{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) ParseAccess(token string) (*TokenMetadata, error) {
	return parse(token, m.accessKey)
}

func (m *TokenManager) ParseRefresh(token string) (*TokenMetadata, error) {
	return parse(token, m.refreshKey)
}

// Authenticate accepts a valid access token whose second factor, if any, has
// been completed.
func (m *TokenManager) Authenticate(_ context.Context, credential string) (uint, error) {
	meta, err := m.ParseAccess(credential)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}
	if meta.Otp {
		return 0, fmt.Errorf("%w: 2fa required", model.ErrAuthentication)
	}
	return meta.ID, nil
}

func sign(id uint, otp bool, expire time.Duration, key []byte) (string, error) {
	claims := jwt.MapClaims{
		"id":  strconv.FormatUint(uint64(id), 10),
		"otp": otp,
		"exp": time.Now().Add(expire).Unix(),
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(key)
}

func parse(token string, key []byte) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{signingAlg}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	return metadataFromClaims(claims)
}

// ClaimsUserID extracts the user id from verified claims.
func ClaimsUserID(claims jwt.MapClaims) (uint, error) {
	raw, ok := claims["id"].(string)
	if !ok {
		return 0, errors.New("token has no id claim")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad id claim %q", raw)
	}
	return uint(id), nil
}

func metadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, err := ClaimsUserID(claims)
	if err != nil {
		return nil, err
	}
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)
	return &TokenMetadata{ID: id, Otp: otp, Exp: int64(exp)}, nil
}
