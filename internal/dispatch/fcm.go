package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/pricing"
)

// TokenRegistry maps drivers to their current FCM device token. Drivers
// refresh their token through the API; the last write wins.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[uuid.UUID]string
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[uuid.UUID]string)}
}

func (t *TokenRegistry) Set(driverID uuid.UUID, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if token == "" {
		delete(t.tokens, driverID)
		return
	}
	t.tokens[driverID] = token
}

func (t *TokenRegistry) Get(driverID uuid.UUID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.tokens[driverID]
	return tok, ok
}

// FCMDispatcher posts offers to an FCM HTTPv1 endpoint. Device token lookup
// is delegated to a resolver so the registry stays out of this package.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
	Tokens   func(driverID uuid.UUID) (string, bool)
}

func NewFCMDispatcher(endpoint, key string, tokens func(uuid.UUID) (string, bool)) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}, Tokens: tokens}
}

func (f *FCMDispatcher) SendOffer(ctx context.Context, driverID uuid.UUID, offer *domain.DriverOffer) error {
	token := ""
	if f.Tokens != nil {
		t, ok := f.Tokens(driverID)
		if !ok {
			return ErrNoSession
		}
		token = t
	}

	body := map[string]any{"message": map[string]any{
		"token": token,
		"data": map[string]any{
			"ride_id": offer.RideID,
			"fare":    pricing.FormatPrice(offer.FareTotal, offer.Currency),
			"offer":   offer,
		},
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm status %d", resp.StatusCode)
	}
	return nil
}
