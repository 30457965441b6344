package audit

import (
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Event is a single audit record. Amounts are in cents.
type Event struct {
	Timestamp time.Time
	EventType string
	Reference string
	UserID    int64
	Amount    models.Cents
	Status    string
	Details   map[string]any
}

// Logger writes ledger mutations to a dedicated audit stream.
type Logger struct {
	out *logrus.Logger
}

// NewLogger wraps out. A nil out falls back to the standard logger.
func NewLogger(out *logrus.Logger) *Logger {
	if out == nil {
		out = logrus.StandardLogger()
	}
	return &Logger{out: out}
}

func (a *Logger) LogTransfer(reference string, fromUser, toUser int64, amount models.Cents, status string) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: "TRANSFER",
		Reference: reference,
		UserID:    fromUser,
		Amount:    amount,
		Status:    status,
		Details:   map[string]any{"to_user_id": toUser},
	})
}

func (a *Logger) LogOperation(reference string, userID int64, operation string, amount models.Cents, details map[string]any) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *Logger) LogError(reference string, userID int64, operation string, err error) {
	a.log(Event{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		Reference: reference,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]any{"error": err.Error()},
	})
}

func (a *Logger) log(e Event) {
	if a == nil {
		return
	}
	fields := logrus.Fields{
		"audit":      true,
		"event_type": e.EventType,
		"reference":  e.Reference,
		"user_id":    e.UserID,
		"amount":     e.Amount.String(),
		"status":     e.Status,
	}
	for k, v := range e.Details {
		fields[k] = v
	}
	a.out.WithTime(e.Timestamp).WithFields(fields).Info("AUDIT")
}
