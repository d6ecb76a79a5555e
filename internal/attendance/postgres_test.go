//go:build integration

package attendance

import (
	"context"
	"testing"
	"time"

	"facecheck/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedger(t *testing.T) {
	db := storetest.Postgres(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	f := storetest.Seed(t, db, now.Add(-2*time.Minute), now.Add(time.Hour), "Asha", "Bruno")
	ledger := NewLedger(NewPostgresStore(db), 10*time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()
	asha := f.StudentIDs[0]

	out, err := ledger.RecordMatch(ctx, f.SessionID, asha, 0.40)
	require.NoError(t, err)
	assert.Equal(t, Created, out)

	out, err = ledger.RecordMatch(ctx, f.SessionID, asha, 0.60)
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	out, err = ledger.RecordMatch(ctx, f.SessionID, asha, 0.50)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	out, err = ledger.RecordQR(ctx, f.SessionID, asha, true)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	recent, err := ledger.Recent(ctx, f.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Asha", recent[0].Name)
	assert.Equal(t, StatusPresent, recent[0].Status)
	assert.Equal(t, 0.60, *recent[0].Confidence)

	st, err := ledger.Stats(ctx, f.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Face)
}

func TestPostgresLedgerRejectsStoppedSession(t *testing.T) {
	db := storetest.Postgres(t)
	now := time.Now().UTC()
	f := storetest.Seed(t, db, now.Add(-time.Minute), now.Add(time.Hour), "Chen")
	_, err := db.Exec(`UPDATE sessions SET status = 'stopped' WHERE id = $1`, f.SessionID)
	require.NoError(t, err)

	ledger := NewLedger(NewPostgresStore(db), 0)
	out, err := ledger.RecordMatch(context.Background(), f.SessionID, f.StudentIDs[0], 0.9)
	require.NoError(t, err)
	assert.Equal(t, Rejected, out)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM attendance`).Scan(&n))
	assert.Zero(t, n)
}
