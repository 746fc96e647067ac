package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// ResultClaims 成绩令牌 Claims，游戏结束时签发，保存成绩时校验
type ResultClaims struct {
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	jwt.RegisteredClaims
}

// ResultTokenManager 成绩令牌管理器
type ResultTokenManager struct {
	secretKey []byte
	expiry    time.Duration
	issuer    string
	now       func() time.Time
}

// NewResultTokenManager 创建成绩令牌管理器
func NewResultTokenManager(secretKey string, expiry time.Duration, issuer string) *ResultTokenManager {
	return &ResultTokenManager{
		secretKey: []byte(secretKey),
		expiry:    expiry,
		issuer:    issuer,
		now:       time.Now,
	}
}

// Generate 为一局已结束的游戏签发令牌
func (m *ResultTokenManager) Generate(sessionID string, score int) (string, error) {
	now := m.now()

	claims := &ResultClaims{
		SessionID: sessionID,
		Score:     score,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Validate 校验令牌并返回 Claims
func (m *ResultTokenManager) Validate(tokenString string) (*ResultClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ResultClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ResultClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Score < 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Expiry 令牌有效期
func (m *ResultTokenManager) Expiry() time.Duration {
	return m.expiry
}
