// Package matcher decides which whitelisted identity, if any, a detected
// face belongs to.
package matcher

import (
	"time"

	"facecheck/internal/vecmath"
	"facecheck/internal/whitelist"
)

// Defaults used when a zero value is configured.
const (
	DefaultThreshold = 0.50
	DefaultCooldown  = 30 * time.Second
)

// Outcome of matching one face.
type Outcome int

const (
	// NoCandidates means the whitelist is empty or the embedding does not fit it.
	NoCandidates Outcome = iota
	// Rejected means the best score was below the threshold.
	Rejected
	// CooldownSkipped means the best identity was accepted too recently.
	CooldownSkipped
	// Accepted means the caller should record the match.
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case CooldownSkipped:
		return "cooldown"
	case Accepted:
		return "accepted"
	default:
		return "no_candidates"
	}
}

// Decision is the result of Match. Index, IdentityID and Name are set for
// every outcome except NoCandidates.
type Decision struct {
	Outcome    Outcome
	Index      int
	IdentityID int64
	Name       string
	Similarity float64
}

// Engine is a nearest-centroid classifier with a per-identity cooldown.
// It is not safe for concurrent use; each worker owns one.
type Engine struct {
	wl        whitelist.Whitelist
	threshold float64
	cooldown  time.Duration
	lastMark  map[int64]time.Time
}

// New builds an engine. A non-positive threshold or cooldown falls back to the default.
func New(wl whitelist.Whitelist, threshold float64, cooldown time.Duration) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{wl: wl, threshold: threshold, cooldown: cooldown, lastMark: map[int64]time.Time{}}
}

// Threshold returns the acceptance threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Match scores one embedding. On Accepted the identity's cooldown starts at
// now, whatever happens to the subsequent write.
func (e *Engine) Match(embedding []float32, now time.Time) Decision {
	if e.wl.Empty() || len(embedding) == 0 || len(embedding) != e.wl.Dim() {
		return Decision{Outcome: NoCandidates, Index: -1}
	}

	scores := vecmath.CosineBatch(vecmath.Normalize(embedding), e.wl.Matrix)
	best := vecmath.ArgMax(scores)
	id := e.wl.IDs[best]
	d := Decision{
		Index:      best,
		IdentityID: id,
		Name:       e.wl.Names[id],
		Similarity: scores[best],
	}

	if d.Similarity < e.threshold {
		d.Outcome = Rejected
		return d
	}
	if last, ok := e.lastMark[id]; ok && now.Sub(last) < e.cooldown {
		d.Outcome = CooldownSkipped
		return d
	}
	e.lastMark[id] = now
	d.Outcome = Accepted
	return d
}

// Forget clears the cooldown of one identity so its next match is accepted.
func (e *Engine) Forget(identityID int64) {
	delete(e.lastMark, identityID)
}
