package leveldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

func openStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := NewStore(config.LevelDBConfig{Path: t.TempDir(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openStore(t, time.Hour)

	statuses := []models.SystemStatus{
		{ID: "a", Name: "Alpha", Status: models.StatusOperational, Metrics: map[string]float64{"load": 12}},
		{ID: "b", Status: models.StatusCritical, PredictedFailure: &models.PredictedFailure{Probability: 0.9}},
	}
	require.NoError(t, s.SaveStatuses(statuses))

	loaded, err := s.LoadStatuses()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Alpha", loaded[0].Name)
	assert.Equal(t, 12.0, loaded[0].Metrics["load"])
	assert.Equal(t, 0.9, loaded[1].FailureProbability())
	assert.Equal(t, models.StatusCritical, loaded[1].Status)

	// saving again overwrites in place
	require.NoError(t, s.SaveStatuses(statuses[:1]))
	loaded, err = s.LoadStatuses()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestStore_ExpiredSnapshotsAreSkipped(t *testing.T) {
	s := openStore(t, time.Millisecond)
	require.NoError(t, s.SaveStatuses([]models.SystemStatus{{ID: "old", Status: models.StatusOffline}}))

	time.Sleep(5 * time.Millisecond)

	loaded, err := s.LoadStatuses()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	assert.Equal(t, 1, s.cleanup())
	assert.Equal(t, 0, s.cleanup())
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s, err := NewStore(config.LevelDBConfig{Path: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
