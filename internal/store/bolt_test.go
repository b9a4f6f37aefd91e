package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
)

func newStoreForTest(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStoreSaveAndGet(t *testing.T) {
	s := newStoreForTest(t)
	created := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	want := RunReport{
		ID:           "r-1",
		CreatedAt:    created,
		Client:       "10.0.0.1",
		Report:       sanitize.Report{Input: 5, Output: 2, Deduplicated: 3},
		TokensBefore: 120,
		TokensAfter:  40,
	}
	require.NoError(t, s.SaveReport(want))

	got, err := s.GetReport("r-1")
	require.NoError(t, err)
	require.Equal(t, want.Report, got.Report)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.Equal(t, 40, got.TokensAfter)

	_, err = s.GetReport("missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStoreRejectsEmptyID(t *testing.T) {
	s := newStoreForTest(t)
	require.Error(t, s.SaveReport(RunReport{CreatedAt: time.Now()}))
}

func TestBoltStoreListNewestFirstAndEvicts(t *testing.T) {
	s := newStoreForTest(t)
	s.maxReports = 3
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveReport(RunReport{
			ID:        fmt.Sprintf("r-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListReports(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "r-4", all[0].ID)
	require.Equal(t, "r-2", all[2].ID)

	_, err = s.GetReport("r-0")
	require.True(t, errors.Is(err, ErrNotFound), "evicted reports must not resolve")

	two, err := s.ListReports(2)
	require.NoError(t, err)
	require.Len(t, two, 2)
}
