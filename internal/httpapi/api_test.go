package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/attendance"
	"facecheck/internal/auth"
	"facecheck/internal/cloudinary"
	"facecheck/internal/config"
	"facecheck/internal/faceclient"
	"facecheck/internal/livestatus"
	"facecheck/internal/qrtoken"
	"facecheck/internal/templates"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start  = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	roomID = int64(3)
	lat    = 12.9716
	lng    = 77.5946
)

var testCfg = Config{
	Issuer:     "facecheck-test",
	SigningKey: "signing-key",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
	QRSecret:   "qr-secret",
	QRStep:     10 * time.Second,
}

// sessions wraps the in-memory attendance store as a session repository.
type sessions struct {
	*attendance.MemoryStore
	room academics.Room
}

func (s sessions) MarkRunning(ctx context.Context, id int64) (academics.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return academics.Session{}, err
	}
	if sess.Status == academics.StatusStopped {
		return academics.Session{}, academics.ErrSessionStopped
	}
	s.SetStatus(id, academics.StatusRunning)
	return s.GetSession(ctx, id)
}

func (s sessions) MarkStopped(ctx context.Context, id int64) (academics.Session, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return academics.Session{}, err
	}
	s.SetStatus(id, academics.StatusStopped)
	return s.GetSession(ctx, id)
}

func (s sessions) GetRoom(ctx context.Context, id int64) (academics.Room, error) {
	if id != s.room.ID {
		return academics.Room{}, academics.ErrNotFound
	}
	return s.room, nil
}

type call struct {
	op     string
	id     int64
	source string
}

type fakeWorkers struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeWorkers) StartSession(ctx context.Context, id int64, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"start", id, source})
	return f.err
}

func (f *fakeWorkers) StopSession(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"stop", id, ""})
	return f.err
}

type fakeDevices struct {
	tokens map[string]string
}

func (f *fakeDevices) UpsertDevice(ctx context.Context, deviceID string) error { return nil }

func (f *fakeDevices) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	f.tokens[token] = deviceID
	return nil
}

func (f *fakeDevices) RotateRefreshToken(ctx context.Context, token string) (string, error) {
	id, ok := f.tokens[token]
	if !ok {
		return "", auth.ErrRefreshRevoked
	}
	delete(f.tokens, token)
	return id, nil
}

type fakeLive struct{}

func (fakeLive) Snapshot(ctx context.Context, sessionID int64) (livestatus.Snapshot, error) {
	return livestatus.Snapshot{FaceSeen: 7, WorkerUp: true}, nil
}

type fakeUploader struct{}

func (fakeUploader) UploadPhoto(ctx context.Context, studentID int64, data []byte, filename string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{SecureURL: "https://cdn.test/" + filename}, nil
}

type fakePhotos struct{ added []templates.Photo }

func (f *fakePhotos) AddPhoto(ctx context.Context, identityID int64, url string) (templates.Photo, error) {
	p := templates.Photo{ID: int64(len(f.added) + 1), IdentityID: identityID, URL: url}
	f.added = append(f.added, p)
	return p, nil
}

type trainerFunc func(ctx context.Context, ids []int64) (templates.Summary, error)

func (f trainerFunc) Rebuild(ctx context.Context, ids []int64) (templates.Summary, error) {
	return f(ctx, ids)
}

type env struct {
	router  *gin.Engine
	store   *attendance.MemoryStore
	workers *fakeWorkers
	photos  *fakePhotos
	now     time.Time
}

func newEnv(t *testing.T, trainer Trainer) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{
		store:   attendance.NewMemoryStore(),
		workers: &fakeWorkers{},
		photos:  &fakePhotos{},
		now:     start.Add(5 * time.Minute),
	}
	e.store.PutSession(academics.Session{ID: 1, CourseAssignmentID: 9, RoomID: &roomID, Status: academics.StatusScheduled, StartTime: start, EndTime: start.Add(time.Hour)})
	e.store.PutSession(academics.Session{ID: 2, CourseAssignmentID: 9, Status: academics.StatusStopped, StartTime: start, EndTime: start.Add(time.Hour)})
	e.store.Enroll(9, 10)

	clock := func() time.Time { return e.now }
	h := New(testCfg, Deps{
		Sessions: sessions{MemoryStore: e.store, room: academics.Room{ID: roomID, Latitude: &lat, Longitude: &lng, RadiusM: 60}},
		Ledger:   attendance.NewLedger(e.store, 10*time.Minute).WithClock(clock),
		Live:     fakeLive{},
		Devices:  &fakeDevices{tokens: map[string]string{}},
		Photos:   e.photos,
		Uploader: fakeUploader{},
		Trainer:  trainer,
		Workers:  e.workers,
		Cameras:  &config.CameraMap{Default: "0", Rooms: map[string]string{"3": "rtsp://cam-3/stream"}},
		Checks:   map[string]func(context.Context) bool{"db": func(context.Context) bool { return true }},
	})
	h.now = clock
	e.router = gin.New()
	h.Register(e.router)
	return e
}

func token(t *testing.T, role string) string {
	t.Helper()
	pair, err := auth.Issue("kiosk-1", role, testCfg.Issuer, testCfg.SigningKey, time.Minute, time.Hour)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *env) do(t *testing.T, method, path string, body any, role string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["db"])
}

func TestRoutesRequireToken(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodPost, "/v1/sessions/1/start", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.workers.calls)

	rec = e.do(t, http.MethodPost, "/v1/templates/rebuild", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartAndStopSession(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/v1/sessions/1/start", nil, auth.RoleDevice)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "rtsp://cam-3/stream", decode(t, rec)["source"])

	sess, err := e.store.GetSession(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, academics.StatusRunning, sess.Status)

	rec = e.do(t, http.MethodPost, "/v1/sessions/1/stop", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []call{{"start", 1, "rtsp://cam-3/stream"}, {"stop", 1, ""}}, e.workers.calls)

	rec = e.do(t, http.MethodPost, "/v1/sessions/1/start", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusConflict, rec.Code, "stopped sessions stay stopped")

	rec = e.do(t, http.MethodPost, "/v1/sessions/99/start", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/sessions/abc/start", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSessionWorkerFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.workers.err = errors.New("queue down")
	rec := e.do(t, http.MethodPost, "/v1/sessions/1/start", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSessionStatus(t *testing.T) {
	e := newEnv(t, nil)
	e.store.SetStatus(1, academics.StatusRunning)

	rec := e.do(t, http.MethodGet, "/v1/sessions/1/status", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["running"])
	live := body["live"].(map[string]any)
	assert.Equal(t, float64(7), live["face_seen"])
}

func TestQRFlow(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/v1/sessions/1/qr", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusConflict, rec.Code, "no token for a session that is not running")

	e.store.SetStatus(1, academics.StatusRunning)
	rec = e.do(t, http.MethodGet, "/v1/sessions/1/qr", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode(t, rec)["token"].(string)

	claims, err := qrtoken.Verify(testCfg.QRSecret, tok, e.now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.SessionID)
	require.NotNil(t, claims.RoomID)
	assert.Equal(t, roomID, *claims.RoomID)

	in := lat + 0.0001
	rec = e.do(t, http.MethodPost, "/v1/attendance/qr", gin.H{"token": tok, "identity_id": 10, "lat": in, "lng": lng}, auth.RoleDevice)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decode(t, rec)["geo_ok"])

	r, ok := e.store.Get(1, 10)
	require.True(t, ok)
	assert.Equal(t, attendance.MethodQR, r.Method)
	assert.True(t, r.GeoOK)
	assert.Nil(t, r.Confidence)

	rec = e.do(t, http.MethodPost, "/v1/attendance/qr", gin.H{"token": tok, "identity_id": 10}, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(attendance.Unchanged), decode(t, rec)["outcome"])

	rec = e.do(t, http.MethodPost, "/v1/attendance/qr", gin.H{"token": tok, "identity_id": 11}, auth.RoleDevice)
	assert.Equal(t, http.StatusConflict, rec.Code, "not enrolled")

	e.now = e.now.Add(time.Minute)
	rec = e.do(t, http.MethodPost, "/v1/attendance/qr", gin.H{"token": tok, "identity_id": 10}, auth.RoleDevice)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expired token")

	rec = e.do(t, http.MethodPost, "/v1/attendance/qr", gin.H{"token": tok + "x", "identity_id": 10}, auth.RoleDevice)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQRImage(t *testing.T) {
	e := newEnv(t, nil)
	e.store.SetStatus(1, academics.StatusRunning)

	rec := e.do(t, http.MethodGet, "/v1/sessions/1/qr.png", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestAttendanceAndStats(t *testing.T) {
	e := newEnv(t, nil)
	e.store.SetStatus(1, academics.StatusRunning)
	ledger := attendance.NewLedger(e.store, 10*time.Minute).WithClock(func() time.Time { return e.now })
	_, err := ledger.RecordMatch(context.Background(), 1, 10, 0.8)
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/v1/sessions/1/attendance?limit=5", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["attendance"], 1)

	rec = e.do(t, http.MethodGet, "/v1/sessions/1/attendance?limit=-1", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/sessions/1/stats", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(1), stats["face"])
	assert.Equal(t, float64(1), stats["present"])
}

func TestValidateGeo(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/v1/rooms/3/validate-geo?lat=12.9716&lng=77.5946", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["inside"])

	rec = e.do(t, http.MethodGet, "/v1/rooms/3/validate-geo?lat=12.99&lng=77.5946", nil, auth.RoleDevice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["inside"])

	rec = e.do(t, http.MethodGet, "/v1/rooms/3/validate-geo", nil, auth.RoleDevice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceRegisterAndRefresh(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/v1/devices/register", gin.H{"device_id": "kiosk-7"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	refresh := decode(t, rec)["refresh_token"].(string)

	rec = e.do(t, http.MethodPost, "/v1/devices/refresh", gin.H{"refresh_token": refresh}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	access := decode(t, rec)["access_token"].(string)
	claims, err := auth.Parse(access, testCfg.SigningKey, testCfg.Issuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", claims.Subject)

	rec = e.do(t, http.MethodPost, "/v1/devices/refresh", gin.H{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are single use")

	rec = e.do(t, http.MethodPost, "/v1/devices/register", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadPhoto(t *testing.T) {
	e := newEnv(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("photo", "face.jpg")
	require.NoError(t, err)
	_, _ = part.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/identities/10/photos", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleAdmin))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, e.photos.added, 1)
	assert.Equal(t, int64(10), e.photos.added[0].IdentityID)
	assert.Equal(t, "https://cdn.test/face.jpg", e.photos.added[0].URL)
}

func TestRebuildTemplates(t *testing.T) {
	var got []int64
	e := newEnv(t, trainerFunc(func(ctx context.Context, ids []int64) (templates.Summary, error) {
		got = ids
		return templates.Summary{Identities: len(ids), Embeddings: 3}, nil
	}))

	rec := e.do(t, http.MethodPost, "/v1/templates/rebuild", gin.H{"identity_ids": []int64{10, 11}}, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{10, 11}, got)
	assert.Equal(t, float64(3), decode(t, rec)["embeddings"])

	disabled := newEnv(t, nil)
	rec = disabled.do(t, http.MethodPost, "/v1/templates/rebuild", nil, auth.RoleAdmin)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRebuildTemplatesReportsPartialWork(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "face service down", err: fmt.Errorf("identity 12: %w", faceclient.ErrUnavailable), status: http.StatusServiceUnavailable},
		{name: "store failure", err: errors.New("upsert centroid: conn closed"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, trainerFunc(func(context.Context, []int64) (templates.Summary, error) {
				return templates.Summary{Identities: 2, Embeddings: 5, Skipped: 1}, tt.err
			}))

			rec := e.do(t, http.MethodPost, "/v1/templates/rebuild", nil, auth.RoleAdmin)
			require.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			summary, ok := body["summary"].(map[string]any)
			require.True(t, ok, "body: %v", body)
			assert.Equal(t, float64(2), summary["identities"])
			assert.Equal(t, float64(5), summary["embeddings"])
			assert.Equal(t, float64(1), summary["skipped"])
		})
	}
}
