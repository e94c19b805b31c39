package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/ctxutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
)

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*types.Device
	touched int
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[uuid.UUID]*types.Device)}
}

func (f *fakeDeviceRepo) Create(dbc dbctx.Context, device *types.Device) (*types.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	device.CreatedAt = time.Now()
	cp := *device
	f.devices[device.ID] = &cp
	return device, nil
}

func (f *fakeDeviceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *device
	return &cp, nil
}

func (f *fakeDeviceRepo) TouchLastSeen(dbc dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if device, ok := f.devices[id]; ok {
		now := time.Now()
		device.LastSeenAt = &now
		f.touched++
	}
	return nil
}

func newTestAuth(t *testing.T, pairingCode string, ttl time.Duration) (AuthService, *fakeDeviceRepo) {
	t.Helper()
	repo := newFakeDeviceRepo()
	svc, err := NewAuthService(mustTestLogger(t), repo, pairingCode, "test-jwt-secret", ttl)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc, repo
}

func TestAuthServiceRequiresJWTSecret(t *testing.T) {
	if _, err := NewAuthService(mustTestLogger(t), newFakeDeviceRepo(), "", "  ", 0); err == nil {
		t.Fatal("blank JWT secret accepted")
	}
}

func TestPairDeviceAndTokenRoundTrip(t *testing.T) {
	svc, repo := newTestAuth(t, "garage-4411", time.Hour)
	ctx := context.Background()

	device, secret, token, err := svc.PairDevice(ctx, "garage-4411", "pixel-dashboard")
	if err != nil {
		t.Fatalf("PairDevice: %v", err)
	}
	if device.ID == uuid.Nil || device.Name != "pixel-dashboard" {
		t.Fatalf("device = %+v", device)
	}
	if len(secret) != 64 {
		t.Fatalf("secret length = %d, want 64 hex chars", len(secret))
	}
	if device.SecretHash == secret {
		t.Fatal("plaintext secret stored as hash")
	}
	if token == "" {
		t.Fatal("no access token issued at pairing")
	}

	authed, err := svc.SetContextFromToken(ctx, token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	id := ctxutil.GetIdentity(authed)
	if id == nil || id.DeviceID != device.ID || id.DeviceName != "pixel-dashboard" {
		t.Fatalf("identity = %+v", id)
	}

	refreshed, err := svc.Token(ctx, device.ID, secret)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if refreshed == "" {
		t.Fatal("empty refreshed token")
	}
	if repo.touched != 1 {
		t.Fatalf("last_seen touches = %d, want 1", repo.touched)
	}
}

func TestPairDeviceRejectsBadCode(t *testing.T) {
	svc, _ := newTestAuth(t, "garage-4411", time.Hour)

	_, _, _, err := svc.PairDevice(context.Background(), "wrong", "pixel")
	if !errors.Is(err, ErrPairingCodeInvalid) {
		t.Fatalf("err = %v, want ErrPairingCodeInvalid", err)
	}

	_, _, _, err = svc.PairDevice(context.Background(), "garage-4411", "   ")
	if err == nil {
		t.Fatal("blank device name accepted")
	}
}

func TestPairDeviceOpenModeWhenNoCodeConfigured(t *testing.T) {
	svc, _ := newTestAuth(t, "", time.Hour)

	if _, _, _, err := svc.PairDevice(context.Background(), "anything", "open-pixel"); err != nil {
		t.Fatalf("open pairing rejected: %v", err)
	}
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAuth(t, "", time.Hour)
	ctx := context.Background()

	device, secret, _, err := svc.PairDevice(ctx, "", "pixel")
	if err != nil {
		t.Fatalf("PairDevice: %v", err)
	}

	if _, err := svc.Token(ctx, device.ID, secret+"x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong secret: err = %v", err)
	}
	if _, err := svc.Token(ctx, uuid.New(), secret); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown device: err = %v", err)
	}
	if _, err := svc.Token(ctx, uuid.Nil, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty credentials: err = %v", err)
	}
}

func TestSetContextFromTokenRejectsBadTokens(t *testing.T) {
	svc, _ := newTestAuth(t, "", time.Hour)
	ctx := context.Background()

	if _, err := svc.SetContextFromToken(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: err = %v", err)
	}
	if _, err := svc.SetContextFromToken(ctx, "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: err = %v", err)
	}

	other, _ := newTestAuth(t, "", time.Hour)
	_, _, foreign, err := other.PairDevice(ctx, "", "other-pixel")
	if err != nil {
		t.Fatalf("PairDevice: %v", err)
	}
	// Same signing key, different device store: the subject resolves nowhere.
	if _, err := svc.SetContextFromToken(ctx, foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token: err = %v", err)
	}
}

func TestSetContextFromTokenRejectsExpired(t *testing.T) {
	svc, _ := newTestAuth(t, "", time.Nanosecond)
	ctx := context.Background()

	_, _, token, err := svc.PairDevice(ctx, "", "pixel")
	if err != nil {
		t.Fatalf("PairDevice: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := svc.SetContextFromToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: err = %v", err)
	}
}

func TestGetAccessTTLDefault(t *testing.T) {
	svc, _ := newTestAuth(t, "", 0)
	if svc.GetAccessTTL() != 12*time.Hour {
		t.Fatalf("default TTL = %v, want 12h", svc.GetAccessTTL())
	}
}
