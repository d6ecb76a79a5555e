package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/attendance"
	"facecheck/internal/livestatus"
	"facecheck/internal/qrtoken"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 320

// StartSession marks the session running and asks for a worker on the
// camera mapped to its room.
func (h *Handler) StartSession(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sess, err := h.deps.Sessions.MarkRunning(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	source := h.deps.Cameras.SourceFor(sess.RoomID)
	if err := h.deps.Workers.StartSession(c.Request.Context(), id, source); err != nil {
		log.Printf("session %d: start worker: %v", id, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "worker start failed", "session": sess})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": sess, "source": source})
}

// StopSession marks the session stopped and stops its worker.
func (h *Handler) StopSession(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sess, err := h.deps.Sessions.MarkStopped(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	if err := h.deps.Workers.StopSession(c.Request.Context(), id); err != nil {
		log.Printf("session %d: stop worker: %v", id, err)
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// SessionStatus returns the session with whatever its worker last reported.
func (h *Handler) SessionStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sess, err := h.deps.Sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	var snap livestatus.Snapshot
	if h.deps.Live != nil {
		snap, err = h.deps.Live.Snapshot(c.Request.Context(), id)
		if err != nil {
			log.Printf("session %d: live status: %v", id, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"session": sess,
		"running": sess.Running(h.now()),
		"live":    snap,
	})
}

// RecentAttendance lists the newest marks, ?limit= defaults to 20.
func (h *Handler) RecentAttendance(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, 500)
	}
	records, err := h.deps.Ledger.Recent(c.Request.Context(), id, limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

// SessionStats summarizes the session's marks.
func (h *Handler) SessionStats(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	stats, err := h.deps.Ledger.Stats(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) issueQR(c *gin.Context) (string, qrtoken.Claims, bool) {
	id, ok := idParam(c)
	if !ok {
		return "", qrtoken.Claims{}, false
	}
	sess, err := h.deps.Sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return "", qrtoken.Claims{}, false
	}
	now := h.now()
	if !sess.Running(now) {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not running"})
		return "", qrtoken.Claims{}, false
	}
	step := h.cfg.QRStep
	if sess.QRStepSeconds > 0 {
		step = time.Duration(sess.QRStepSeconds) * time.Second
	}
	token, claims, err := qrtoken.Issue(h.cfg.QRSecret, sess.ID, sess.RoomID, step, now)
	if err != nil {
		abort(c, err)
		return "", qrtoken.Claims{}, false
	}
	return token, claims, true
}

// QRToken returns the current rotating token for a running session.
func (h *Handler) QRToken(c *gin.Context) {
	token, claims, ok := h.issueQR(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": claims.ExpiresAt()})
}

// QRImage renders the current token as a PNG.
func (h *Handler) QRImage(c *gin.Context) {
	token, _, ok := h.issueQR(c)
	if !ok {
		return
	}
	png, err := qrcode.Encode(token, qrcode.Medium, qrImageSize)
	if err != nil {
		abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

type qrMarkRequest struct {
	Token      string   `json:"token" binding:"required"`
	IdentityID int64    `json:"identity_id" binding:"required"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

// MarkQR verifies a scanned token and records a QR mark. A mark outside the
// room's geofence is still recorded, with geo_ok false.
func (h *Handler) MarkQR(c *gin.Context) {
	var req qrMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := qrtoken.Verify(h.cfg.QRSecret, req.Token, h.now())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	geoOK := false
	if claims.RoomID != nil && req.Lat != nil && req.Lng != nil {
		room, err := h.deps.Sessions.GetRoom(c.Request.Context(), *claims.RoomID)
		if err != nil && !errors.Is(err, academics.ErrNotFound) {
			abort(c, err)
			return
		}
		geoOK = err == nil && room.Contains(*req.Lat, *req.Lng)
	}

	outcome, err := h.deps.Ledger.RecordQR(c.Request.Context(), claims.SessionID, req.IdentityID, geoOK)
	if err != nil {
		abort(c, err)
		return
	}
	status := http.StatusOK
	switch outcome {
	case attendance.Created:
		status = http.StatusCreated
	case attendance.Rejected:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"outcome": outcome, "session_id": claims.SessionID, "geo_ok": geoOK})
}

// ValidateGeo reports the distance from a point to the room's centre.
func (h *Handler) ValidateGeo(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng required"})
		return
	}
	room, err := h.deps.Sessions.GetRoom(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	if room.Latitude == nil || room.Longitude == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "room has no coordinates"})
		return
	}
	dist := academics.HaversineMeters(*room.Latitude, *room.Longitude, lat, lng)
	c.JSON(http.StatusOK, gin.H{
		"distance_m": dist,
		"radius_m":   room.RadiusM,
		"inside":     dist <= room.RadiusM,
	})
}
