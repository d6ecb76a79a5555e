// Package worker runs one camera loop per running session and keeps track of
// which sessions have a live worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/attendance"
	"facecheck/internal/camera"
	"facecheck/internal/faceclient"
	"facecheck/internal/livestatus"
	"facecheck/internal/matcher"
	"facecheck/internal/metrics"
	"facecheck/internal/whitelist"
)

// ErrEmptyWhitelist means nobody enrolled in the session has a template.
var ErrEmptyWhitelist = errors.New("empty whitelist")

// SessionReader returns the authoritative session row.
type SessionReader interface {
	GetSession(ctx context.Context, id int64) (academics.Session, error)
}

// WhitelistLoader builds a session's whitelist.
type WhitelistLoader interface {
	Load(ctx context.Context, session academics.Session) (whitelist.Whitelist, error)
}

// Detector finds faces in a frame.
type Detector interface {
	DetectAndEmbed(ctx context.Context, image []byte) ([]faceclient.Detection, error)
}

// Recorder writes accepted matches.
type Recorder interface {
	RecordMatch(ctx context.Context, sessionID, identityID int64, similarity float64) (attendance.Outcome, error)
}

// Reporter receives live status updates. Implementations must not block for long.
type Reporter interface {
	Seen(ctx context.Context, sessionID int64, faces int, at time.Time)
	Best(ctx context.Context, sessionID int64, m livestatus.Match)
	Marked(ctx context.Context, sessionID int64, m livestatus.Match)
	Heartbeat(ctx context.Context, sessionID int64, ttl time.Duration)
	Clear(ctx context.Context, sessionID int64)
}

// Config tunes a worker. Zero values take the defaults noted per field.
type Config struct {
	Threshold           float64       // matcher.DefaultThreshold
	Cooldown            time.Duration // matcher.DefaultCooldown
	ReadBackoff         time.Duration // 50ms
	FrameInterval       time.Duration // none
	ReadFailureLimit    int           // 0 retries forever
	RetryOnWriteFailure bool
	HeartbeatEvery      time.Duration // 5s
}

// Deps are the collaborators a worker needs. Reporter and Now are optional.
type Deps struct {
	Sessions   SessionReader
	Whitelists WhitelistLoader
	Cameras    camera.Opener
	Detector   Detector
	Ledger     Recorder
	Reporter   Reporter
	Now        func() time.Time
}

// SessionWorker owns the camera and match engine of one session.
type SessionWorker struct {
	sessionID int64
	source    string
	cfg       Config
	deps      Deps
	lastBeat  time.Time
}

// NewSessionWorker creates a worker. Nothing is opened until Run.
func NewSessionWorker(sessionID int64, source string, cfg Config, deps Deps) *SessionWorker {
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = 50 * time.Millisecond
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	return &SessionWorker{sessionID: sessionID, source: source, cfg: cfg, deps: deps}
}

// Run loads the session and whitelist, opens the camera and processes frames
// until ctx is cancelled or the session is no longer running. It returns nil
// on a normal stop.
func (w *SessionWorker) Run(ctx context.Context) error {
	sess, err := w.deps.Sessions.GetSession(ctx, w.sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !sess.Running(w.deps.Now()) {
		log.Printf("session %d: not running (%s), worker not started", w.sessionID, sess.Status)
		return nil
	}

	wl, err := w.deps.Whitelists.Load(ctx, sess)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}
	if wl.Empty() {
		return ErrEmptyWhitelist
	}
	engine := matcher.New(wl, w.cfg.Threshold, w.cfg.Cooldown)

	cam, err := w.deps.Cameras.Open(ctx, w.source)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer cam.Close()
	defer w.deps.Reporter.Clear(context.WithoutCancel(ctx), w.sessionID)

	log.Printf("session %d: worker running, %d identities, camera %s", w.sessionID, len(wl.IDs), w.source)
	failures := 0
	for {
		if ctx.Err() != nil {
			log.Printf("session %d: stop requested", w.sessionID)
			return nil
		}

		sess, err = w.deps.Sessions.GetSession(ctx, w.sessionID)
		if errors.Is(err, academics.ErrNotFound) {
			log.Printf("session %d: deleted, stopping", w.sessionID)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("session %d: status check failed: %v", w.sessionID, err)
			sleep(ctx, w.cfg.ReadBackoff)
			continue
		}
		if !sess.Running(w.deps.Now()) {
			log.Printf("session %d: %s, ends %s, stopping", w.sessionID, sess.Status, sess.EndTime.Format(time.RFC3339))
			return nil
		}

		frame, err := cam.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			metrics.FrameReadErrors.Inc()
			if w.cfg.ReadFailureLimit > 0 && failures >= w.cfg.ReadFailureLimit {
				return fmt.Errorf("camera: %d consecutive read failures: %w", failures, err)
			}
			sleep(ctx, w.cfg.ReadBackoff)
			continue
		}
		failures = 0

		w.processFrame(ctx, engine, frame)
		w.heartbeat(ctx)
		sleep(ctx, w.cfg.FrameInterval)
	}
}

func (w *SessionWorker) processFrame(ctx context.Context, engine *matcher.Engine, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %d: frame dropped after panic: %v", w.sessionID, r)
		}
	}()
	began := time.Now()

	dets, err := w.deps.Detector.DetectAndEmbed(ctx, frame)
	if err != nil {
		metrics.DetectErrors.Inc()
		log.Printf("session %d: detect: %v", w.sessionID, err)
		return
	}
	metrics.Frames.Inc()
	metrics.Detections.Add(float64(len(dets)))

	now := w.deps.Now()
	w.deps.Reporter.Seen(ctx, w.sessionID, len(dets), now)
	for _, d := range dets {
		dec := engine.Match(d.Embedding, now)
		metrics.MatchDecisions.WithLabelValues(dec.Outcome.String()).Inc()
		if dec.Outcome == matcher.NoCandidates {
			continue
		}
		live := livestatus.Match{IdentityID: dec.IdentityID, Name: dec.Name, Similarity: dec.Similarity, Outcome: dec.Outcome.String(), At: now}
		w.deps.Reporter.Best(ctx, w.sessionID, live)
		if dec.Outcome != matcher.Accepted {
			continue
		}

		out, err := w.deps.Ledger.RecordMatch(ctx, w.sessionID, dec.IdentityID, dec.Similarity)
		if err != nil {
			metrics.LedgerWrites.WithLabelValues(attendance.MethodFace, "error").Inc()
			log.Printf("session %d: record identity %d: %v", w.sessionID, dec.IdentityID, err)
			if w.cfg.RetryOnWriteFailure {
				engine.Forget(dec.IdentityID)
			}
			continue
		}
		metrics.LedgerWrites.WithLabelValues(attendance.MethodFace, string(out)).Inc()
		if out == attendance.Created || out == attendance.Updated {
			live.Outcome = string(out)
			w.deps.Reporter.Marked(ctx, w.sessionID, live)
			log.Printf("session %d: %s identity %d (%s) sim=%.3f", w.sessionID, out, dec.IdentityID, dec.Name, dec.Similarity)
		}
	}
	metrics.FrameSeconds.Observe(time.Since(began).Seconds())
}

func (w *SessionWorker) heartbeat(ctx context.Context) {
	now := time.Now()
	if now.Sub(w.lastBeat) < w.cfg.HeartbeatEvery {
		return
	}
	w.lastBeat = now
	w.deps.Reporter.Heartbeat(ctx, w.sessionID, 3*w.cfg.HeartbeatEvery)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type nopReporter struct{}

func (nopReporter) Seen(context.Context, int64, int, time.Time) {}
func (nopReporter) Best(context.Context, int64, livestatus.Match) {}
func (nopReporter) Marked(context.Context, int64, livestatus.Match) {}
func (nopReporter) Heartbeat(context.Context, int64, time.Duration) {}
func (nopReporter) Clear(context.Context, int64) {}
