package batch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towfleet/tracking/cli/tracker/model"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.LocationRecord
	fail    bool
}

func (s *recordingSink) SaveBatch(records []model.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("storage down")
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *recordingSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func record(vehicleID string, ts int64) model.LocationRecord {
	return model.NewRecord(model.EnrichedReport{LocationReport: model.LocationReport{
		VehicleID: vehicleID,
		Timestamp: ts,
	}})
}

func TestEnqueueBatchSizeTriggersOneFlush(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, 50, 1000, time.Hour)
	w.Start()
	defer w.Close()

	for i := 0; i < 50; i++ {
		w.Enqueue(record("veh-1", int64(i)))
	}

	require.Eventually(t, func() bool { return sink.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.QueueLen())
	assert.Equal(t, 1, sink.flushCount())
}

func TestTimerFlushesPartialBatch(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, 50, 1000, 30*time.Millisecond)
	w.Start()
	defer w.Close()

	for i := 0; i < 49; i++ {
		w.Enqueue(record("veh-1", int64(i)))
	}
	assert.Equal(t, 0, sink.flushCount())

	require.Eventually(t, func() bool { return sink.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.QueueLen())
}

func TestHardCeilingForcesFlush(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, 100, 10, time.Hour)
	w.Start()
	defer w.Close()

	for i := 0; i < 10; i++ {
		w.Enqueue(record("veh-1", int64(i)))
	}

	require.Eventually(t, func() bool { return sink.flushCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDownsamplingBoundsPerVehicleVolume(t *testing.T) {
	var batch []model.LocationRecord
	for i := 0; i < 25; i++ {
		batch = append(batch, record("veh-1", int64(i)))
	}

	kept := downsample(batch)

	// Newest plus every 3rd older record: 1 + 8 of 25.
	require.Len(t, kept, 9)
	assert.Equal(t, int64(24), kept[0].Timestamp)
	assert.LessOrEqual(t, len(kept), 1+(24+2)/3)
}

func TestDownsamplingKeepsSmallGroupsIntact(t *testing.T) {
	var batch []model.LocationRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, record("veh-1", int64(i)))
	}
	for i := 0; i < 15; i++ {
		batch = append(batch, record("veh-2", int64(i)))
	}

	kept := downsample(batch)

	// veh-1 is under the threshold, veh-2 over it but under the hard limit.
	assert.Len(t, kept, 20)
}

func TestFailedFlushRequeuesSubset(t *testing.T) {
	sink := &recordingSink{}
	sink.setFail(true)
	w := NewWriter(sink, 100, 1000, time.Hour)

	for i := 0; i < 30; i++ {
		w.Enqueue(record("veh-1", int64(i)))
	}
	w.Flush()

	// First 10 plus every 3rd of the rest: 10 + {12,15,...,27}.
	assert.Equal(t, 16, w.QueueLen())

	sink.setFail(false)
	w.Flush()
	assert.Equal(t, 0, w.QueueLen())
	assert.Equal(t, 1, sink.flushCount())
}

func TestCloseDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, 100, 1000, time.Hour)
	w.Start()

	for i := 0; i < 7; i++ {
		w.Enqueue(record("veh-1", int64(i)))
	}
	w.Close()

	assert.Equal(t, 1, sink.flushCount())
	assert.Equal(t, 0, w.QueueLen())
}
