package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"time"

	"github.com/civicdrive/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

const receiptTTL = 72 * time.Hour

// ReceiptPayload is encoded into the proof-of-payment QR code.
type ReceiptPayload struct {
	TransactionID int64                  `json:"transaction_id"`
	UserID        int64                  `json:"user_id"`
	Type          models.TransactionType `json:"type" swaggertype:"string"`
	Amount        models.Cents           `json:"amount" swaggertype:"number"`
	Description   string                 `json:"description"`
	Timestamp     time.Time              `json:"timestamp"`
	Reference     string                 `json:"reference,omitempty"`
	Nonce         string                 `json:"nonce"`
}

// Receipt is a generated QR proof of payment.
type Receipt struct {
	Code      string         `json:"code"`
	Image     string         `json:"image"`
	ExpiresAt time.Time      `json:"expires_at"`
	Payload   ReceiptPayload `json:"payload"`
}

// ReceiptService issues QR receipts that enforcement staff can verify.
// Without redis receipts are still generated but cannot be verified.
type ReceiptService struct {
	customers *CustomerService
	redis     *redis.Client
	random    io.Reader
	now       func() time.Time
}

func NewReceiptService(customers *CustomerService, rdb *redis.Client) *ReceiptService {
	return &ReceiptService{
		customers: customers,
		redis:     rdb,
		random:    rand.Reader,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReceiptService) Generate(ctx context.Context, userID, transactionID int64) (*Receipt, error) {
	t, err := s.customers.Transaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}

	nonce, err := s.generateNonce()
	if err != nil {
		return nil, persistenceError("generate receipt nonce", err)
	}

	payload := ReceiptPayload{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Type:          t.TransactionType,
		Amount:        t.Amount,
		Description:   t.Description,
		Timestamp:     t.Timestamp,
		Nonce:         nonce,
	}
	if t.Reference.Valid {
		payload.Reference = t.Reference.UUID.String()
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	code := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis != nil {
		if err := s.redis.Set(ctx, receiptKey(code), jsonData, receiptTTL).Err(); err != nil {
			return nil, persistenceError("store receipt", err)
		}
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode receipt qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, fmt.Errorf("render receipt qr: %w", err)
	}

	return &Receipt{
		Code:      code,
		Image:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		ExpiresAt: s.now().Add(receiptTTL),
		Payload:   payload,
	}, nil
}

// Verify returns the payload of a receipt issued within the last receiptTTL.
func (s *ReceiptService) Verify(ctx context.Context, code string) (*ReceiptPayload, error) {
	if code == "" {
		return nil, validationError("Receipt code is required")
	}
	if s.redis == nil {
		return nil, persistenceError("verify receipt", fmt.Errorf("receipt store unavailable"))
	}

	data, err := s.redis.Get(ctx, receiptKey(code)).Bytes()
	if err == redis.Nil {
		return nil, notFound("Invalid or expired receipt")
	}
	if err != nil {
		return nil, persistenceError("verify receipt", err)
	}

	var payload ReceiptPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, persistenceError("decode receipt", err)
	}
	return &payload, nil
}

func receiptKey(code string) string {
	return fmt.Sprintf("receipt:%s", code)
}

func (s *ReceiptService) generateNonce() (string, error) {
	b := make([]byte, 12)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
