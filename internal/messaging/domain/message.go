package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MessageStatus defines the delivery lifecycle of a message.
// Transitions are forward-only: queued -> sending -> sent|failed.
type MessageStatus string

const (
	MessageStatusQueued  MessageStatus = "queued"
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// Value implements the driver.Valuer interface for MessageStatus.
func (ms MessageStatus) Value() (driver.Value, error) {
	return string(ms), nil
}

// Scan implements the sql.Scanner interface for MessageStatus.
func (ms *MessageStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan MessageStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*ms = MessageStatus(strVal)
	switch *ms {
	case MessageStatusQueued, MessageStatusSending, MessageStatusSent, MessageStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown MessageStatus value: %s", strVal)
	}
}

// Message is an outbound email queued by an operator or by the automated
// messaging scheduler. Subject and Body hold the template source; rendering
// happens at dispatch time. Once terminal, only a human re-queue creates a
// new Message; the old row is never mutated again.
type Message struct {
	ID                string            `json:"id"`
	SenderRef         string            `json:"sender_ref"`
	Subject           string            `json:"subject"`
	Body              string            `json:"body"`
	Vars              map[string]string `json:"vars,omitempty"`
	Status            MessageStatus     `json:"status"`
	ProviderMessageID *string           `json:"provider_message_id,omitempty"`
	ErrorReason       *string           `json:"error_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
}
