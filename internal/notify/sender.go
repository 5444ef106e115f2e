package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/obs"
)

// SubjectPrefix marks every outgoing subject.
const SubjectPrefix = "[ETIAS] "

// LogSender writes notifications to the process log. It is the default when
// no broker is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	obs.Logger().Info("notification",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
		zap.String("user_id", n.UserID),
		zap.String("application_id", n.ApplicationID),
		zap.String("recipient", n.RecipientEmail),
		zap.String("subject", SubjectPrefix+n.Subject),
	)
	return nil
}

// messageWriter is the part of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications to a topic for a mail relay to consume.
// Messages are keyed by user id so one user's notifications stay ordered.
type KafkaSender struct {
	w messageWriter
}

// NewKafkaSender builds a sender writing to topic on brokers.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &KafkaSender{w: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}}, nil
}

type wireMessage struct {
	ID             string `json:"id"`
	Type           Type   `json:"type"`
	UserID         string `json:"userId,omitempty"`
	ApplicationID  string `json:"applicationId,omitempty"`
	RecipientEmail string `json:"recipientEmail,omitempty"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	CreatedAt      string `json:"createdAt"`
}

func (s *KafkaSender) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(wireMessage{
		ID:             n.ID,
		Type:           n.Type,
		UserID:         n.UserID,
		ApplicationID:  n.ApplicationID,
		RecipientEmail: n.RecipientEmail,
		Subject:        SubjectPrefix + n.Subject,
		Content:        n.Content,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish notification: %v", apperr.ErrExternalService, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.w.Close()
}
