package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/logging"
)

func testOffer(driverID uuid.UUID) *domain.DriverOffer {
	return &domain.DriverOffer{
		RideID:    uuid.New(),
		DriverID:  driverID,
		FareTotal: 145000,
		Currency:  domain.CurrencyNGN,
		OfferedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(15 * time.Second),
	}
}

func TestPushDispatcherFallsBackToEndpoint(t *testing.T) {
	driverID := uuid.New()
	var got struct {
		DriverID uuid.UUID           `json:"driver_id"`
		Offer    *domain.DriverOffer `json:"offer"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	p := NewPushDispatcher(srv.URL, NewWSRegistry(logging.NewLogger("error")))
	if err := p.SendOffer(context.Background(), driverID, testOffer(driverID)); err != nil {
		t.Fatal(err)
	}
	if got.DriverID != driverID || got.Offer == nil {
		t.Fatalf("push payload = %+v", got)
	}
}

func TestPushDispatcherNoRouteToDriver(t *testing.T) {
	driverID := uuid.New()
	p := NewPushDispatcher("", NewWSRegistry(logging.NewLogger("error")))

	err := p.SendOffer(context.Background(), driverID, testOffer(driverID))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestPushDispatcherPrefersNext(t *testing.T) {
	driverID := uuid.New()
	tokens := NewTokenRegistry()
	tokens.Set(driverID, "device-token-1")

	var gotAuth string
	var body map[string]any
	fcmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
	}))
	defer fcmSrv.Close()

	p := NewPushDispatcher("", NewWSRegistry(logging.NewLogger("error")))
	p.Next = NewFCMDispatcher(fcmSrv.URL, "server-key", tokens.Get)

	if err := p.SendOffer(context.Background(), driverID, testOffer(driverID)); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer server-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	msg, _ := body["message"].(map[string]any)
	if msg == nil || msg["token"] != "device-token-1" {
		t.Fatalf("fcm message = %+v", body)
	}
}

func TestFCMDispatcherUnknownDriver(t *testing.T) {
	f := NewFCMDispatcher("http://fcm.invalid", "key", NewTokenRegistry().Get)
	err := f.SendOffer(context.Background(), uuid.New(), testOffer(uuid.New()))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestTokenRegistryOverwriteAndClear(t *testing.T) {
	tokens := NewTokenRegistry()
	id := uuid.New()

	tokens.Set(id, "one")
	tokens.Set(id, "two")
	if tok, ok := tokens.Get(id); !ok || tok != "two" {
		t.Fatalf("token = %q ok=%v", tok, ok)
	}

	tokens.Set(id, "")
	if _, ok := tokens.Get(id); ok {
		t.Fatal("empty token should clear the registration")
	}
}
