package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetRunUnknownReturnsNil(t *testing.T) {
	store := newTestStore(t)

	record, err := store.GetRun("SRR9999999")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)

	saved := &RunRecord{
		RunID:     "SRR1234567",
		Bucket:    "sra-pub-run-odp",
		Key:       "sra/SRR1234567/SRR1234567",
		Size:      8500,
		MD5:       "0123456789abcdef0123456789abcdef",
		Status:    StatusSucceeded,
		Bytes:     8500,
		ElapsedMs: 1200,
	}
	require.NoError(t, store.SaveRun(saved))

	got, err := store.GetRun("SRR1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.Bucket, got.Bucket)
	assert.Equal(t, saved.Key, got.Key)
	assert.Equal(t, saved.Size, got.Size)
	assert.Equal(t, saved.MD5, got.MD5)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, int64(8500), got.Bytes)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSaveRunUpserts(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveRun(&RunRecord{
		RunID:     "SRR1234567",
		Bucket:    "sra-pub-run-odp",
		Key:       "sra/SRR1234567/SRR1234567",
		Size:      8500,
		Status:    StatusIncomplete,
		LastError: "chunk 2: connection reset",
	}))
	require.NoError(t, store.SaveRun(&RunRecord{
		RunID:  "SRR1234567",
		Bucket: "sra-pub-run-odp",
		Key:    "sra/SRR1234567/SRR1234567",
		Size:   8500,
		Status: StatusSucceeded,
		Bytes:  8500,
	}))

	got, err := store.GetRun("SRR1234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Empty(t, got.LastError)

	failed, err := store.ListFailedRuns()
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestListFailedRuns(t *testing.T) {
	store := newTestStore(t)

	records := []*RunRecord{
		{RunID: "SRR1", Bucket: "b", Key: "k1", Size: 10, Status: StatusSucceeded},
		{RunID: "SRR2", Bucket: "b", Key: "k2", Size: 20, Status: StatusIncomplete, LastError: "chunk 1 failed"},
		{RunID: "SRR3", Bucket: "b", Key: "k3", Size: 30, Status: StatusMismatch},
		{RunID: "SRR4", Bucket: "b", Key: "k4", Size: 40, Status: StatusInterrupted},
	}
	for _, r := range records {
		require.NoError(t, store.SaveRun(r))
	}

	failed, err := store.ListFailedRuns()
	require.NoError(t, err)
	require.Len(t, failed, 3)

	var ids []string
	for _, r := range failed {
		ids = append(ids, r.RunID)
	}
	assert.ElementsMatch(t, []string{"SRR2", "SRR3", "SRR4"}, ids)
}
