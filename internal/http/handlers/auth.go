package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/http/response"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type AuthHandler struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthHandler(log *logger.Logger, authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		log:         log.With("handler", "AuthHandler"),
		authService: authService,
	}
}

// Pair registers a device against the configured pairing code. The device
// secret in the response is shown exactly once; only its hash survives.
func (h *AuthHandler) Pair(c *gin.Context) {
	var req struct {
		PairingCode string `json:"pairing_code"`
		DeviceName  string `json:"device_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	device, secret, token, err := h.authService.PairDevice(c.Request.Context(), req.PairingCode, req.DeviceName)
	if err != nil {
		if errors.Is(err, services.ErrPairingCodeInvalid) {
			response.RespondError(c, http.StatusUnauthorized, "invalid_pairing_code", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "pairing_failed", err)
		return
	}

	response.RespondCreated(c, gin.H{
		"device_id":     device.ID,
		"device_name":   device.Name,
		"device_secret": secret,
		"access_token":  token,
		"expires_in":    int(h.authService.GetAccessTTL().Seconds()),
	})
}

// Token exchanges a device id/secret pair for a fresh access token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req struct {
		DeviceID     uuid.UUID `json:"device_id"`
		DeviceSecret string    `json:"device_secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	token, err := h.authService.Token(c.Request.Context(), req.DeviceID, req.DeviceSecret)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			response.RespondError(c, http.StatusUnauthorized, "invalid_credentials", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "token_failed", err)
		return
	}

	response.RespondOK(c, gin.H{
		"access_token": token,
		"expires_in":   int(h.authService.GetAccessTTL().Seconds()),
	})
}
