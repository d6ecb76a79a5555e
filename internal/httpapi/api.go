// Package httpapi exposes session control, live status, QR attendance and
// template management over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/attendance"
	"facecheck/internal/auth"
	"facecheck/internal/cloudinary"
	"facecheck/internal/config"
	"facecheck/internal/livestatus"
	"facecheck/internal/templates"
	"facecheck/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions is the session table as the API sees it.
type Sessions interface {
	GetSession(ctx context.Context, id int64) (academics.Session, error)
	MarkRunning(ctx context.Context, id int64) (academics.Session, error)
	MarkStopped(ctx context.Context, id int64) (academics.Session, error)
	GetRoom(ctx context.Context, id int64) (academics.Room, error)
}

// Ledger records QR marks and reads back a session's attendance.
type Ledger interface {
	RecordQR(ctx context.Context, sessionID, identityID int64, geoOK bool) (attendance.Outcome, error)
	Recent(ctx context.Context, sessionID int64, limit int) ([]attendance.Record, error)
	Stats(ctx context.Context, sessionID int64) (attendance.Stats, error)
}

// LiveStatus reads what the session's worker last reported.
type LiveStatus interface {
	Snapshot(ctx context.Context, sessionID int64) (livestatus.Snapshot, error)
}

// Devices stores kiosks and their refresh tokens.
type Devices interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, token string) (string, error)
}

// Photos stores reference photo URLs.
type Photos interface {
	AddPhoto(ctx context.Context, identityID int64, url string) (templates.Photo, error)
}

// Uploader stores reference photo bytes and returns where they live.
type Uploader interface {
	UploadPhoto(ctx context.Context, studentID int64, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Trainer rebuilds embedding templates.
type Trainer interface {
	Rebuild(ctx context.Context, identityIDs []int64) (templates.Summary, error)
}

// Config carries token and QR settings.
type Config struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	QRSecret   string
	QRStep     time.Duration
}

// Deps are the collaborators behind the routes. Uploader and Trainer may be
// nil, in which case their routes answer 503.
type Deps struct {
	Sessions Sessions
	Ledger   Ledger
	Live     LiveStatus
	Devices  Devices
	Photos   Photos
	Uploader Uploader
	Trainer  Trainer
	Workers  worker.Controller
	Cameras  *config.CameraMap
	// Checks are reported by /healthz; any false answer makes it 503.
	Checks   map[string]func(context.Context) bool
}

// Handler serves the API.
type Handler struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// New creates a handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{cfg: cfg, deps: deps, now: time.Now}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/devices/register", h.RegisterDevice)
	r.POST("/v1/devices/refresh", h.RefreshDevice)

	v1 := r.Group("/v1", auth.Bearer(h.cfg.SigningKey, h.cfg.Issuer, auth.RoleDevice, auth.RoleAdmin))
	v1.POST("/sessions/:id/start", h.StartSession)
	v1.POST("/sessions/:id/stop", h.StopSession)
	v1.GET("/sessions/:id/status", h.SessionStatus)
	v1.GET("/sessions/:id/attendance", h.RecentAttendance)
	v1.GET("/sessions/:id/stats", h.SessionStats)
	v1.GET("/sessions/:id/qr", h.QRToken)
	v1.GET("/sessions/:id/qr.png", h.QRImage)
	v1.POST("/attendance/qr", h.MarkQR)
	v1.GET("/rooms/:id/validate-geo", h.ValidateGeo)

	admin := r.Group("/v1", auth.Bearer(h.cfg.SigningKey, h.cfg.Issuer, auth.RoleAdmin))
	admin.POST("/identities/:id/photos", h.UploadPhoto)
	admin.POST("/templates/rebuild", h.RebuildTemplates)
}

// Healthz reports each dependency check.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.deps.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// abort writes err as JSON with a status derived from its kind.
func abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, academics.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, academics.ErrSessionStopped):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
