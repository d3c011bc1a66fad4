package domain

import (
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetentionDays = 30
	retentionChunkSize   = 10000
)

// RetentionRepo deletes old records in bounded chunks.
type RetentionRepo interface {
	DeleteOlderThan(cutoff time.Time, limit int) (int64, error)
}

// CleanupLocations removes location records older than the retention horizon.
// Runs once daily; an error aborts the run until the next day. Each chunk is
// its own transaction, so an aborted run leaves no partial state.
type CleanupLocations struct {
	Repository    RetentionRepo
	RetentionDays int

	// ChunkPause spaces the delete statements to limit sustained load.
	ChunkPause time.Duration

	cronScheduler *cron.Cron
	now           func() time.Time
}

func NewCleanupLocations(repo RetentionRepo, retentionDays int) *CleanupLocations {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupLocations{
		Repository:    repo,
		RetentionDays: retentionDays,
		ChunkPause:    time.Second,
		now:           time.Now,
	}
}

// Schedule arms the daily 02:00 run.
func (j *CleanupLocations) Schedule() error {
	j.cronScheduler = cron.New()
	_, err := j.cronScheduler.AddFunc("0 2 * * *", func() {
		if err := j.Run(); err != nil {
			logrus.Errorf("Location retention cleanup failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}
	j.cronScheduler.Start()
	logrus.Infof("Scheduled daily location retention cleanup at 02:00 (%d days horizon)", j.RetentionDays)
	return nil
}

func (j *CleanupLocations) Shutdown() {
	if j.cronScheduler != nil {
		j.cronScheduler.Stop()
	}
}

// Run performs one full sweep.
func (j *CleanupLocations) Run() error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	logrus.Infof("Starting location retention cleanup, removing records older than %s", cutoff.Format(time.RFC3339))

	var total int64
	for {
		deleted, err := j.Repository.DeleteOlderThan(cutoff, retentionChunkSize)
		if err != nil {
			return fmt.Errorf("retention delete failed after %d records: %w", total, err)
		}
		total += deleted
		if deleted == 0 {
			break
		}
		if j.ChunkPause > 0 {
			time.Sleep(j.ChunkPause)
		}
	}

	logrus.Infof("Location retention cleanup completed: %d records deleted in %s", total, j.now().Sub(start))
	return nil
}
