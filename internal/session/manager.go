// Package session хранит гостевые сессии и выбирает коллекцию историй для вызывающего.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
)

// GuestSession гостевая сессия с собственной коллекцией в памяти.
type GuestSession struct {
	ID        string
	CreatedAt time.Time
	Stories   *repository.GuestStoryRepository
}

// Manager явный объект состояния вместо глобальных хранилищ.
type Manager struct {
	mu      sync.RWMutex
	durable repository.StoryRepository
	guests  map[string]*GuestSession
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager создает менеджер. durable используется для авторизованных пользователей.
func NewManager(durable repository.StoryRepository, logger *zap.Logger) *Manager {
	return &Manager{
		durable: durable,
		guests:  make(map[string]*GuestSession),
		now:     time.Now,
		logger:  logger.Named("SessionManager"),
	}
}

// StartGuest открывает гостевую сессию с коллекцией, засеянной демо-историей.
func (m *Manager) StartGuest() *GuestSession {
	s := &GuestSession{
		ID:        uuid.NewString(),
		CreatedAt: m.now(),
		Stories:   repository.NewGuestStoryRepository(m.logger),
	}
	m.mu.Lock()
	m.guests[s.ID] = s
	active := len(m.guests)
	m.mu.Unlock()

	m.logger.Info("Guest session started", zap.String("session_id", s.ID), zap.Int("active_sessions", active))
	return s
}

// End завершает гостевую сессию и уничтожает ее истории. Повторный вызов не ошибка.
func (m *Manager) End(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.guests[sessionID]
	delete(m.guests, sessionID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Stories.Clear()
	m.logger.Info("Guest session ended", zap.String("session_id", sessionID))
	return true
}

// Resolve возвращает коллекцию для класса вызывающего.
func (m *Manager) Resolve(identity models.Identity) (repository.StoryRepository, error) {
	switch identity.Class {
	case models.IdentityAuthenticated:
		if identity.UserID == "" {
			return nil, fmt.Errorf("%w: authenticated identity without user id", models.ErrValidation)
		}
		if m.durable == nil {
			return nil, fmt.Errorf("%w: durable store is not configured", models.ErrPersistence)
		}
		return m.durable, nil
	case models.IdentityGuest:
		m.mu.RLock()
		s, ok := m.guests[identity.SessionID]
		m.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: guest session %s", models.ErrNotFound, identity.SessionID)
		}
		return s.Stories, nil
	default:
		return nil, fmt.Errorf("%w: unauthenticated caller", models.ErrValidation)
	}
}

// Guest возвращает гостевую сессию по id.
func (m *Manager) Guest(sessionID string) (*GuestSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.guests[sessionID]
	return s, ok
}

// ExpireOlderThan завершает гостевые сессии старше ttl и возвращает их число.
func (m *Manager) ExpireOlderThan(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)
	m.mu.RLock()
	var stale []string
	for id, s := range m.guests {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.End(id)
	}
	if len(stale) > 0 {
		m.logger.Info("Expired guest sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}
