package httpapi

import (
	"errors"
	"log"
	"net/http"

	"facecheck/internal/auth"

	"github.com/gin-gonic/gin"
)

// RegisterDevice enrolls a kiosk and hands it a token pair.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Devices.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
		abort(c, err)
		return
	}
	h.issueTokens(c, http.StatusCreated, req.DeviceID)
}

// RefreshDevice trades a refresh token for a new pair. The old refresh token
// is revoked.
func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, h.cfg.SigningKey, h.cfg.Issuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	deviceID, err := h.deps.Devices.RotateRefreshToken(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrRefreshRevoked) || (err == nil && deviceID != claims.Subject) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		abort(c, err)
		return
	}
	h.issueTokens(c, http.StatusOK, deviceID)
}

func (h *Handler) issueTokens(c *gin.Context, status int, deviceID string) {
	tokens, err := auth.Issue(deviceID, auth.RoleDevice, h.cfg.Issuer, h.cfg.SigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.deps.Devices.SaveRefreshToken(c.Request.Context(), deviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		log.Printf("device %s: save refresh token: %v", deviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}
