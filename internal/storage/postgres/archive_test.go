package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// Requires a reachable database: CMDHUB_TEST_POSTGRES_URL=postgres://...
func openArchive(t *testing.T) *Archive {
	t.Helper()
	url := os.Getenv("CMDHUB_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CMDHUB_TEST_POSTGRES_URL not set")
	}

	a, err := NewArchive(config.PostgresConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.EnsureSchema(context.Background()))
	return a
}

func TestArchive_StoreAndReadBack(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()

	e := models.NewCommandEvent(models.EventAlertTriggered, models.PriorityCritical, map[string]string{"rule": "r1"})
	e.Seq = 42
	e.CorrelationID = uuid.NewString()
	e.Timestamp = time.Now().Add(time.Hour)

	require.NoError(t, a.StoreEvents(ctx, []models.CommandEvent{e}))
	require.NoError(t, a.StoreEvents(ctx, []models.CommandEvent{e}))

	recent, err := a.RecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, e.ID, recent[0].ID)
	assert.Equal(t, uint64(42), recent[0].Seq)
	assert.Equal(t, e.CorrelationID, recent[0].CorrelationID)
	assert.JSONEq(t, `{"rule":"r1"}`, string(recent[0].Payload.(json.RawMessage)))
}

func TestArchive_StoreNothing(t *testing.T) {
	var a Archive
	assert.NoError(t, a.StoreEvents(context.Background(), nil))
}
