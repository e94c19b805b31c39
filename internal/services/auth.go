package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/ctxutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

var (
	ErrPairingCodeInvalid = errors.New("invalid pairing code")
	ErrInvalidCredentials = errors.New("invalid device credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// AuthService pairs devices and exchanges their long-lived secret for
// short-lived access tokens. The device secret is shown exactly once, at
// pairing; only its bcrypt hash is stored.
type AuthService interface {
	PairDevice(ctx context.Context, pairingCode, deviceName string) (*types.Device, string, string, error)
	Token(ctx context.Context, deviceID uuid.UUID, deviceSecret string) (string, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	log         *logger.Logger
	devices     repos.DeviceRepo
	pairingCode string
	jwtSecret   string
	accessTTL   time.Duration
}

func NewAuthService(
	baseLog *logger.Logger,
	devices repos.DeviceRepo,
	pairingCode string,
	jwtSecret string,
	accessTTL time.Duration,
) (AuthService, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, fmt.Errorf("auth: JWT secret required")
	}
	if accessTTL <= 0 {
		accessTTL = 12 * time.Hour
	}
	return &authService{
		log:         baseLog.With("service", "AuthService"),
		devices:     devices,
		pairingCode: strings.TrimSpace(pairingCode),
		jwtSecret:   jwtSecret,
		accessTTL:   accessTTL,
	}, nil
}

// PairDevice creates the device row and returns (device, plaintext secret,
// access token). The pairing code is a deployment-level shared secret; when
// none is configured, pairing is open (dev mode).
func (as *authService) PairDevice(ctx context.Context, pairingCode, deviceName string) (*types.Device, string, string, error) {
	if as.pairingCode != "" && strings.TrimSpace(pairingCode) != as.pairingCode {
		return nil, "", "", ErrPairingCodeInvalid
	}
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return nil, "", "", fmt.Errorf("device name required")
	}

	secret, err := newDeviceSecret()
	if err != nil {
		return nil, "", "", fmt.Errorf("generate device secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", "", fmt.Errorf("hash device secret: %w", err)
	}

	device := &types.Device{
		Name:       deviceName,
		SecretHash: string(hash),
	}
	device, err = as.devices.Create(dbctx.New(ctx), device)
	if err != nil {
		return nil, "", "", fmt.Errorf("create device: %w", err)
	}

	token, err := as.generateAccessToken(device)
	if err != nil {
		return nil, "", "", fmt.Errorf("generate access token: %w", err)
	}
	as.log.Info("device paired", "device_id", device.ID, "name", device.Name)
	return device, secret, token, nil
}

func (as *authService) Token(ctx context.Context, deviceID uuid.UUID, deviceSecret string) (string, error) {
	if deviceID == uuid.Nil || deviceSecret == "" {
		return "", ErrInvalidCredentials
	}
	dbc := dbctx.New(ctx)
	device, err := as.devices.GetByID(dbc, deviceID)
	if err != nil {
		return "", fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(deviceSecret)); err != nil {
		return "", ErrInvalidCredentials
	}
	if err := as.devices.TouchLastSeen(dbc, device.ID); err != nil {
		as.log.Warn("touch last seen failed", "device_id", device.ID, "error", err)
	}
	return as.generateAccessToken(device)
}

// SetContextFromToken verifies the token and attaches the caller identity.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, ErrInvalidToken
	}
	var claims JWTClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(as.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return ctx, ErrInvalidToken
	}
	deviceID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, ErrInvalidToken
	}
	device, err := as.devices.GetByID(dbctx.New(ctx), deviceID)
	if err != nil {
		return ctx, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		return ctx, ErrInvalidToken
	}
	return ctxutil.WithIdentity(ctx, &ctxutil.Identity{
		DeviceID:    device.ID,
		DeviceName:  device.Name,
		TokenString: tokenString,
	}), nil
}

func (as *authService) GetAccessTTL() time.Duration { return as.accessTTL }

func (as *authService) generateAccessToken(device *types.Device) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   device.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecret))
}

func newDeviceSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
