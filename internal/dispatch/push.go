package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
)

// Sender delivers one offer to one driver's device.
type Sender interface {
	SendOffer(ctx context.Context, driverID uuid.UUID, offer *domain.DriverOffer) error
}

// PushDispatcher implements offer delivery: WebSocket when the driver is
// connected, then Next (a provider-specific sender such as FCM) when set,
// then the raw push endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
	Next     Sender
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) SendOffer(ctx context.Context, driverID uuid.UUID, offer *domain.DriverOffer) error {
	if p.WS != nil && p.WS.Connected(driverID) {
		if err := p.WS.Offer(driverID, offer); err == nil {
			return nil
		}
		// fall through to push when the socket is broken
	}
	if p.Next != nil {
		if err := p.Next.SendOffer(ctx, driverID, offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}

	b, err := json.Marshal(map[string]any{"driver_id": driverID, "offer": offer})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push provider status %d", resp.StatusCode)
	}
	return nil
}
