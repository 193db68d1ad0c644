package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, Run{ID: "old", StartedAt: started}))
	require.NoError(t, s.CreateRun(ctx, Run{ID: "new", StartedAt: started.Add(time.Hour)}))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[1].ID)
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestChurnTimes_ExcludesNeverChurned(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	for _, ev := range []ChurnEvent{{"a", 300}, {"b", 0}, {"c", 60}, {"d", 120}} {
		require.NoError(t, s.WriteChurnEvent(ctx, "run-1", ev))
	}

	times, err := s.ChurnTimes(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{60, 120, 300}, times)
}
