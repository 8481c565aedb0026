package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// latestSnapshot хранит только последний непрочитанный снимок списка.
type latestSnapshot struct {
	mu sync.Mutex
	ch chan []models.Story
}

func newLatestSnapshot() *latestSnapshot {
	return &latestSnapshot{ch: make(chan []models.Story, 1)}
}

func (l *latestSnapshot) push(stories []models.Story) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- stories
}

// liveStories отправляет в WebSocket каждый снимок коллекции вызывающего.
func (h *StoryHandler) liveStories(c *gin.Context) {
	identity := identityFrom(c)
	repo, ok := h.resolve(c, identity)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("identity_class", string(identity.Class)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := newLatestSnapshot()
	sub, err := repo.Subscribe(ctx, identity.OwnerKey(), snapshots.push)
	if err != nil {
		log.Error("Failed to subscribe to stories", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Unsubscribe()
	log.Info("Live stories connection established")

	go readPump(conn, cancel, log)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Live stories connection closed")
			return
		case stories := <-snapshots.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(liveMessage{Type: "stories", Stories: stories}); err != nil {
				log.Warn("Failed to write snapshot", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// readPump читает до закрытия соединения клиентом; входящие сообщения игнорируются.
func readPump(conn *websocket.Conn, cancel context.CancelFunc, log *zap.Logger) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}
