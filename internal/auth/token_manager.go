// Package auth выпускает и проверяет JWT, из которых получается Identity вызывающего.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const issuer = "storybook-server"

// Claims полезная нагрузка токена.
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	Guest     bool   `json:"guest,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager подписывает и проверяет HMAC-токены.
type TokenManager struct {
	secret []byte
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenManager требует непустой секрет.
func NewTokenManager(secret string, logger *zap.Logger) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		secret: []byte(secret),
		logger: logger.Named("TokenManager"),
		now:    time.Now,
	}, nil
}

// Identity проверяет токен. Пустой токен дает неаутентифицированную Identity без ошибки.
func (m *TokenManager) Identity(tokenString string) (models.Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return models.Identity{Class: models.IdentityUnauthenticated}, nil
	}

	claims, err := m.verify(tokenString)
	if err != nil {
		return models.Identity{Class: models.IdentityUnauthenticated}, err
	}

	if claims.Guest {
		if claims.SessionID == "" {
			return models.Identity{Class: models.IdentityUnauthenticated}, fmt.Errorf("%w: session_id missing", models.ErrTokenInvalid)
		}
		return models.Identity{Class: models.IdentityGuest, SessionID: claims.SessionID}, nil
	}
	if claims.UserID == "" {
		return models.Identity{Class: models.IdentityUnauthenticated}, fmt.Errorf("%w: user_id missing", models.ErrTokenInvalid)
	}
	return models.Identity{Class: models.IdentityAuthenticated, UserID: claims.UserID}, nil
}

func (m *TokenManager) verify(tokenString string) (*Claims, error) {
	log := m.logger.With(zap.String("token_snippet", tokenSnippet(tokenString)))
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Warn("Unexpected signing method", zap.Any("alg", token.Header["alg"]))
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		log.Warn("Failed to verify token", zap.Error(err))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, models.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, models.ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// IssueGuestToken выпускает токен гостевой сессии.
func (m *TokenManager) IssueGuestToken(sessionID string, ttl time.Duration) (string, error) {
	return m.sign(Claims{Guest: true, SessionID: sessionID}, ttl)
}

// IssueUserToken выпускает токен пользователя. Используется внешними сервисами входа и тестами.
func (m *TokenManager) IssueUserToken(userID string, ttl time.Duration) (string, error) {
	return m.sign(Claims{UserID: userID}, ttl)
}

func (m *TokenManager) sign(claims Claims, ttl time.Duration) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func tokenSnippet(tokenString string) string {
	const limit = 15
	if len(tokenString) > limit {
		return tokenString[:limit] + "..."
	}
	return tokenString
}
