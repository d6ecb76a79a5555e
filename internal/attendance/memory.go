package attendance

import (
	"context"
	"sort"
	"sync"

	"facecheck/internal/academics"
)

type recordKey struct {
	session, identity int64
}

// MemoryStore is an in-process Store. InTx holds one mutex for the whole
// transaction, which is at least as strict as the Postgres row lock.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[int64]academics.Session
	enrolled  map[int64]map[int64]bool
	records   map[recordKey]Record
	failWrite error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[int64]academics.Session{},
		enrolled: map[int64]map[int64]bool{},
		records:  map[recordKey]Record{},
	}
}

// PutSession inserts or replaces a session.
func (m *MemoryStore) PutSession(s academics.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// SetStatus changes a stored session's status.
func (m *MemoryStore) SetStatus(sessionID int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Status = status
		m.sessions[sessionID] = s
	}
}

// GetSession returns a stored session, letting the store stand in for the
// session repository in tests.
func (m *MemoryStore) GetSession(ctx context.Context, sessionID int64) (academics.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return academics.Session{}, academics.ErrNotFound
	}
	return s, nil
}

// Enroll adds identities to a course assignment.
func (m *MemoryStore) Enroll(courseAssignmentID int64, identityIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrolled[courseAssignmentID] == nil {
		m.enrolled[courseAssignmentID] = map[int64]bool{}
	}
	for _, id := range identityIDs {
		m.enrolled[courseAssignmentID][id] = true
	}
}

// FailWrites makes every subsequent Upsert return err; nil restores writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = err
}

// Get returns the record for a session and identity.
func (m *MemoryStore) Get(sessionID, identityID int64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey{sessionID, identityID}]
	return r, ok
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryTx{m})
}

type memoryTx struct {
	m *MemoryStore
}

func (t memoryTx) LockSession(ctx context.Context, sessionID int64) (academics.Session, error) {
	s, ok := t.m.sessions[sessionID]
	if !ok {
		return academics.Session{}, academics.ErrNotFound
	}
	return s, nil
}

func (t memoryTx) IsEnrolled(ctx context.Context, courseAssignmentID, identityID int64) (bool, error) {
	return t.m.enrolled[courseAssignmentID][identityID], nil
}

func (t memoryTx) Upsert(ctx context.Context, rec Record) (Outcome, error) {
	if t.m.failWrite != nil {
		return "", t.m.failWrite
	}
	key := recordKey{rec.SessionID, rec.IdentityID}
	existing, ok := t.m.records[key]
	if !ok {
		t.m.records[key] = rec
		return Created, nil
	}
	if rec.Confidence == nil {
		return Unchanged, nil
	}
	if existing.Confidence == nil || *existing.Confidence < *rec.Confidence {
		c := *rec.Confidence
		existing.Confidence = &c
		t.m.records[key] = existing
		return Updated, nil
	}
	return Unchanged, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(ctx context.Context, sessionID int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for k, r := range m.records {
		if k.session == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarkedAt.Equal(out[j].MarkedAt) {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].MarkedAt.After(out[j].MarkedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(ctx context.Context, sessionID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for k, r := range m.records {
		if k.session != sessionID {
			continue
		}
		st.add(r)
	}
	return st, nil
}

func (st *Stats) add(r Record) {
	st.Total++
	switch r.Method {
	case MethodFace:
		st.Face++
	case MethodQR:
		st.QR++
	case MethodManual:
		st.Manual++
	}
	switch r.Status {
	case StatusPresent:
		st.Present++
	case StatusLate:
		st.Late++
	}
	if st.LastMarkAt == nil || r.MarkedAt.After(*st.LastMarkAt) {
		t := r.MarkedAt
		st.LastMarkAt = &t
	}
}
