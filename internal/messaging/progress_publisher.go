// Package messaging публикует события прогресса генерации в RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// ProgressNotificationPayload тело сообщения о прогрессе генерации.
type ProgressNotificationPayload struct {
	TaskID      string                 `json:"task_id"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Stage       models.GenerationStage `json:"stage"`
	CurrentPage int                    `json:"current_page,omitempty"`
	TotalPages  int                    `json:"total_pages,omitempty"`
	Percent     int                    `json:"percent"`
	StoryID     string                 `json:"story_id,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// NewProgressNotificationPayload собирает тело сообщения из запроса и события.
func NewProgressNotificationPayload(req models.GenerationRequest, p models.GenerationProgress) ProgressNotificationPayload {
	payload := ProgressNotificationPayload{
		TaskID:      req.RequestID,
		Stage:       p.Stage,
		CurrentPage: p.CurrentPage,
		TotalPages:  p.TotalPages,
		Percent:     p.Percent(),
		StoryID:     p.StoryID,
	}
	switch req.Identity.Class {
	case models.IdentityAuthenticated:
		payload.UserID = req.Identity.UserID
	case models.IdentityGuest:
		payload.SessionID = req.Identity.SessionID
	}
	if p.Stage == models.StageFailed {
		payload.Error = p.Message
	}
	return payload
}

// amqpPublisher часть *amqp.Channel, нужная для публикации.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQProgressPublisher отправляет события прогресса в durable очередь.
type RabbitMQProgressPublisher struct {
	channel   amqpPublisher
	queueName string
	appID     string
	logger    *zap.Logger
}

// NewRabbitMQProgressPublisher объявляет очередь и возвращает паблишер.
// Канал закрывается вызывающей стороной.
func NewRabbitMQProgressPublisher(ch *amqp.Channel, queueName string, logger *zap.Logger) (*RabbitMQProgressPublisher, error) {
	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-mode": "lazy"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare progress queue %q: %w", queueName, err)
	}
	logger.Info("Progress queue declared", zap.String("queue", queueName))
	return newPublisher(ch, queueName, logger), nil
}

func newPublisher(ch amqpPublisher, queueName string, logger *zap.Logger) *RabbitMQProgressPublisher {
	return &RabbitMQProgressPublisher{
		channel:   ch,
		queueName: queueName,
		appID:     "storybook-server",
		logger:    logger.Named("RabbitMQProgressPublisher"),
	}
}

// NotifyProgress публикует событие. Ошибка возвращается вызывающему, который ее только логирует.
func (p *RabbitMQProgressPublisher) NotifyProgress(ctx context.Context, req models.GenerationRequest, progress models.GenerationProgress) error {
	payload := NewProgressNotificationPayload(req, progress)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal progress payload for task %s: %w", payload.TaskID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: payload.TaskID,
			Body:          body,
			Timestamp:     time.Now(),
			AppId:         p.appID,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish progress",
			zap.String("task_id", payload.TaskID),
			zap.String("stage", string(payload.Stage)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish progress for task %s: %w", payload.TaskID, err)
	}

	p.logger.Debug("Progress published",
		zap.String("task_id", payload.TaskID),
		zap.String("stage", string(payload.Stage)),
		zap.Int("current_page", payload.CurrentPage),
	)
	return nil
}

// Connect подключается к RabbitMQ с повторными попытками.
func Connect(url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ")
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, lastErr)
}
