package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/civicdrive/backend/internal/config"
	"github.com/civicdrive/backend/internal/services"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

type storedResponse struct {
	State       string `json:"state"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// Idempotency replays the stored response of a mutating request that is
// retried with the same Idempotency-Key. Keys are scoped per user and route.
// Server errors and panics release the key so the client can retry.
type Idempotency struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewIdempotency(rdb *redis.Client, cfg config.IdempotencyConfig) *Idempotency {
	return &Idempotency{redis: rdb, ttl: cfg.TTL}
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if i.redis == nil || header == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > 128 {
			services.SendErrorResponse(w, "Idempotency-Key must be at most 128 characters", http.StatusBadRequest, nil)
			return
		}

		userID, _ := UserIDFromContext(r.Context())
		key := fmt.Sprintf("idempotency:%d:%s:%s", userID, r.URL.Path, header)
		ctx := r.Context()
		log := logrus.WithFields(logrus.Fields{"user_id": userID, "idempotency_key": header})

		marker, _ := json.Marshal(storedResponse{State: stateProcessing})
		acquired, err := i.redis.SetNX(ctx, key, string(marker), i.ttl).Result()
		if err != nil {
			log.WithError(err).Warn("[IDEMPOTENCY] store unavailable, processing without replay protection")
			next.ServeHTTP(w, r)
			return
		}

		if !acquired {
			raw, err := i.redis.Get(ctx, key).Bytes()
			if err != nil {
				log.WithError(err).Warn("[IDEMPOTENCY] could not load stored response")
				services.SendErrorResponse(w, "Could not verify Idempotency-Key, please retry", http.StatusServiceUnavailable, nil)
				return
			}
			var stored storedResponse
			if err := json.Unmarshal(raw, &stored); err != nil || stored.State != stateDone {
				services.SendErrorResponse(w, "A request with this Idempotency-Key is still in progress", http.StatusConflict, nil)
				return
			}
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(stored.Status)
			w.Write([]byte(stored.Body))
			return
		}

		release := func() {
			if err := i.redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
				log.WithError(err).Warn("[IDEMPOTENCY] could not release key")
			}
		}
		defer func() {
			if rec := recover(); rec != nil {
				release()
				panic(rec)
			}
		}()

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			release()
			return
		}

		done, _ := json.Marshal(storedResponse{
			State:       stateDone,
			Status:      status,
			ContentType: ww.Header().Get("Content-Type"),
			Body:        buf.String(),
		})
		if err := i.redis.Set(ctx, key, string(done), i.ttl).Err(); err != nil {
			log.WithError(err).Warn("[IDEMPOTENCY] could not store response")
		}
	})
}
