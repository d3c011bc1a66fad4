package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetentionRepo struct {
	timestamps []time.Time
	calls      int
	limits     []int
	failAfter  int
}

func (f *fakeRetentionRepo) DeleteOlderThan(cutoff time.Time, limit int) (int64, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	if f.failAfter > 0 && f.calls > f.failAfter {
		return 0, errors.New("storage gone")
	}

	var kept []time.Time
	var deleted int64
	for _, ts := range f.timestamps {
		if ts.Before(cutoff) && deleted < int64(limit) {
			deleted++
			continue
		}
		kept = append(kept, ts)
	}
	f.timestamps = kept
	return deleted, nil
}

func TestCleanupDeletesOnlyExpiredRecords(t *testing.T) {
	now := time.Now()
	repo := &fakeRetentionRepo{timestamps: []time.Time{
		now.AddDate(0, 0, -45),
		now.AddDate(0, 0, -10),
	}}

	job := NewCleanupLocations(repo, 30)
	job.ChunkPause = 0

	require.NoError(t, job.Run())
	require.Len(t, repo.timestamps, 1)
	assert.WithinDuration(t, now.AddDate(0, 0, -10), repo.timestamps[0], time.Second)
}

func TestCleanupRunsInChunks(t *testing.T) {
	now := time.Now()
	repo := &fakeRetentionRepo{}
	for i := 0; i < 25000; i++ {
		repo.timestamps = append(repo.timestamps, now.AddDate(0, 0, -60))
	}

	job := NewCleanupLocations(repo, 30)
	job.ChunkPause = 0

	require.NoError(t, job.Run())
	assert.Empty(t, repo.timestamps)
	// 10k + 10k + 5k + the empty probe.
	assert.Equal(t, 4, repo.calls)
	for _, limit := range repo.limits {
		assert.Equal(t, retentionChunkSize, limit)
	}
}

func TestCleanupAbortsOnError(t *testing.T) {
	now := time.Now()
	repo := &fakeRetentionRepo{failAfter: 1}
	for i := 0; i < 25000; i++ {
		repo.timestamps = append(repo.timestamps, now.AddDate(0, 0, -60))
	}

	job := NewCleanupLocations(repo, 30)
	job.ChunkPause = 0

	assert.Error(t, job.Run())
	// The first chunk went through, then the run stopped.
	assert.Len(t, repo.timestamps, 15000)
}

func TestCleanupDefaultRetention(t *testing.T) {
	job := NewCleanupLocations(&fakeRetentionRepo{}, 0)
	assert.Equal(t, DefaultRetentionDays, job.RetentionDays)
}
