package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangeFeed сообщает подписчикам, что коллекция владельца изменилась.
type ChangeFeed interface {
	Publish(ctx context.Context, ownerID string) error
	Watch(ctx context.Context, ownerID string, onChange func()) (Subscription, error)
}

var _ ChangeFeed = (*RedisChangeFeed)(nil)

// RedisChangeFeed лента изменений на Redis pub/sub, общая для всех экземпляров сервера.
type RedisChangeFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisChangeFeed создает ленту. prefix добавляется к ownerID в имени канала.
func NewRedisChangeFeed(client *redis.Client, prefix string, logger *zap.Logger) *RedisChangeFeed {
	return &RedisChangeFeed{
		client: client,
		prefix: prefix,
		logger: logger.Named("RedisChangeFeed"),
	}
}

func (f *RedisChangeFeed) channel(ownerID string) string {
	return f.prefix + ownerID
}

func (f *RedisChangeFeed) Publish(ctx context.Context, ownerID string) error {
	if err := f.client.Publish(ctx, f.channel(ownerID), "changed").Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Watch подписывается на канал владельца. onChange вызывается из отдельной горутины.
func (f *RedisChangeFeed) Watch(ctx context.Context, ownerID string, onChange func()) (Subscription, error) {
	ch := f.channel(ownerID)
	ps := f.client.Subscribe(ctx, ch)
	// Дожидаемся подтверждения подписки, иначе ранние публикации теряются.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe to %s failed: %w", ch, err)
	}
	f.logger.Debug("Watching story changes", zap.String("channel", ch))

	done := make(chan struct{})
	go func() {
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				onChange()
			}
		}
	}()

	return newSubscription(func() {
		close(done)
		if err := ps.Close(); err != nil {
			f.logger.Debug("Error closing redis subscription", zap.String("channel", ch), zap.Error(err))
		}
	}), nil
}

var _ ChangeFeed = (*InProcessChangeFeed)(nil)

// InProcessChangeFeed лента изменений внутри одного процесса. Используется без Redis и в тестах.
type InProcessChangeFeed struct {
	mu       sync.Mutex
	watchers map[string]map[int]func()
	nextID   int
}

func NewInProcessChangeFeed() *InProcessChangeFeed {
	return &InProcessChangeFeed{watchers: make(map[string]map[int]func())}
}

func (f *InProcessChangeFeed) Publish(_ context.Context, ownerID string) error {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.watchers[ownerID]))
	for _, fn := range f.watchers[ownerID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (f *InProcessChangeFeed) Watch(_ context.Context, ownerID string, onChange func()) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.watchers[ownerID] == nil {
		f.watchers[ownerID] = make(map[int]func())
	}
	f.watchers[ownerID][id] = onChange
	return newSubscription(func() {
		f.mu.Lock()
		delete(f.watchers[ownerID], id)
		if len(f.watchers[ownerID]) == 0 {
			delete(f.watchers, ownerID)
		}
		f.mu.Unlock()
	}), nil
}
