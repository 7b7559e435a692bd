package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "archive.db")
	store, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path, MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(context.Background(), Config{Driver: "sqlite"}, nil)
	assert.Error(t, err)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path}, nil)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: "sqlite3"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSessionsAndCalls(t *testing.T) {
	exerciseArchive(t, openSQLite(t))
}

func TestOutstanding(t *testing.T) {
	exerciseRegistry(t, openSQLite(t))
}

func TestGetSession_NotFound(t *testing.T) {
	store := openSQLite(t)
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// exerciseArchive runs against any driver.
func exerciseArchive(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	sess, err := store.BeginSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, sess.StartedAt, got.StartedAt, time.Second)

	l := ledger.New(ledger.Config{}, nil, store.LedgerSink(sess.ID))
	l.Append(ctx, ledger.CallRecord{
		Run:      3,
		Endpoint: "/input_data",
		Method:   "POST",
		Verb:     ledger.VerbCreate,
		Phase:    ledger.PhaseRequest,
		Request:  json.RawMessage(`{"created_object_name":"uploaded_data_1"}`),
	})
	l.Append(ctx, ledger.CallRecord{
		Run:       3,
		Endpoint:  "/input_data",
		Method:    "POST",
		Verb:      ledger.VerbCreate,
		Phase:     ledger.PhaseSettled,
		Request:   json.RawMessage(`{"created_object_name":"uploaded_data_1"}`),
		Error:     "[network] create: request failed",
		ErrorKind: "network",
	})

	calls, err := store.ListCalls(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	local := l.Records()
	assert.Equal(t, local[0].ID, calls[0].ID)
	assert.Equal(t, uint64(3), calls[0].Run)
	assert.Equal(t, ledger.PhaseRequest, calls[0].Phase)
	assert.JSONEq(t, `{"created_object_name":"uploaded_data_1"}`, string(calls[0].Request))
	assert.Empty(t, calls[0].Response)
	assert.Equal(t, ledger.PhaseSettled, calls[1].Phase)
	assert.True(t, calls[1].Failed())
	assert.Equal(t, "network", calls[1].ErrorKind)
	assert.WithinDuration(t, local[1].Timestamp, calls[1].Timestamp, time.Second)

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, sessions)
	assert.Equal(t, sess.ID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].Calls)
	assert.Zero(t, sessions[0].Outstanding)
}

func exerciseRegistry(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	first, err := store.BeginSession(ctx)
	require.NoError(t, err)
	// keep session ordering deterministic
	time.Sleep(10 * time.Millisecond)
	second, err := store.BeginSession(ctx)
	require.NoError(t, err)

	reg1 := store.LedgerSink(first.ID)
	reg2 := store.LedgerSink(second.ID)
	require.NoError(t, reg1.Track(ctx, "uploaded_data_a"))
	require.NoError(t, reg1.Track(ctx, "extracted_b"))
	require.NoError(t, reg2.Track(ctx, "uploaded_data_c"))
	require.NoError(t, reg1.Forget(ctx, "extracted_b"))
	// forgetting twice or an unknown name is harmless
	require.NoError(t, reg1.Forget(ctx, "extracted_b"))
	require.NoError(t, reg1.Forget(ctx, "never_created"))

	groups, err := store.Outstanding(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, first.ID, groups[0].SessionID)
	assert.Equal(t, []remote.ObjectRef{"uploaded_data_a"}, groups[0].Refs)
	assert.Equal(t, second.ID, groups[1].SessionID)
	assert.Equal(t, []remote.ObjectRef{"uploaded_data_c"}, groups[1].Refs)

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, 1, sessions[1].Outstanding)
}
