package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnywakim02/remote-stream/internal/storage"
)

func TestManager_SaveRecording(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	created := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, mgr.SaveRecording(ctx, storage.Recording{
		DeviceIndex: 0,
		Kind:        storage.KindSegment,
		Path:        "/vids/20_05_2026/camera0/12.mp4",
		SizeBytes:   1000,
		CreatedAt:   created,
	}))
	// Same path replaces the entry
	require.NoError(t, mgr.SaveRecording(ctx, storage.Recording{
		DeviceIndex: 0,
		Kind:        storage.KindSegment,
		Path:        "/vids/20_05_2026/camera0/12.mp4",
		SizeBytes:   5000,
		CreatedAt:   created,
	}))

	recs, err := mgr.ListRecordings(ctx, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, int64(5000), recs[0].SizeBytes)
	assert.True(t, recs[0].CreatedAt.Equal(created), "created_at round trip: %v vs %v", recs[0].CreatedAt, created)
}

func TestManager_ListRecordings_Filters(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	base := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.Local)

	entries := []storage.Recording{
		{DeviceIndex: 0, Kind: storage.KindSnapshot, Path: "/a.jpg", SizeBytes: 10, CreatedAt: base.Add(-72 * time.Hour)},
		{DeviceIndex: 1, Kind: storage.KindSnapshot, Path: "/b.jpg", SizeBytes: 20, CreatedAt: base},
		{DeviceIndex: 0, Kind: storage.KindSegment, Path: "/c.mp4", SizeBytes: 300, CreatedAt: base.Add(-48 * time.Hour)},
	}
	for _, rec := range entries {
		require.NoError(t, mgr.SaveRecording(ctx, rec))
	}

	all, err := mgr.ListRecordings(ctx, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/a.jpg", all[0].Path, "oldest first")
	assert.Equal(t, "/b.jpg", all[2].Path)

	snaps, err := mgr.ListRecordings(ctx, storage.KindSnapshot, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	old, err := mgr.ListRecordings(ctx, "", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, old, 2)

	stats, err := mgr.RecordingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Snapshots)
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, int64(330), stats.TotalSizeBytes)

	require.NoError(t, mgr.DeleteRecording(ctx, "/c.mp4"))
	stats, err = mgr.RecordingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Segments)
}

func TestManager_RetentionThroughCatalog(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	root := t.TempDir()
	layout := storage.Layout{ImageFolder: root + "/img", VideoFolder: root + "/vid"}
	store, err := storage.NewStore(storage.StoreConfig{Layout: layout, RetentionDays: 1, Catalog: mgr}, nil)
	require.NoError(t, err)

	now := time.Now()
	_, err = store.SaveSnapshot(ctx, now.AddDate(0, 0, -5), 0, []byte("old"))
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, now, 0, []byte("new"))
	require.NoError(t, err)

	removed, err := store.EnforceRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	recs, err := mgr.ListRecordings(ctx, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, layout.SnapshotPath(now, 0), recs[0].Path)
}
