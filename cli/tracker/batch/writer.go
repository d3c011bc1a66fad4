package batch

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/towfleet/tracking/cli/tracker/model"
)

const (
	DefaultBatchSize    = 50
	DefaultMaxQueueSize = 1000
	DefaultInterval     = 30 * time.Second

	// A vehicle contributing more than this many records in one batch gets
	// downsampled.
	downsampleThreshold = 5
	// Above this group size only the newest fix plus every 3rd older one
	// survive.
	downsampleHardLimit = 20
)

// Sink receives a flushed batch. The write must be all-or-nothing.
type Sink interface {
	SaveBatch(records []model.LocationRecord) error
}

// Writer accumulates location records and flushes them to the sink when the
// queue reaches the batch size, when it hits the hard ceiling, or on the
// periodic timer. Enqueue never blocks on I/O.
type Writer struct {
	sink         Sink
	batchSize    int
	maxQueueSize int
	interval     time.Duration

	mu         sync.Mutex
	queue      []model.LocationRecord
	processing bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewWriter(sink Sink, batchSize, maxQueueSize int, interval time.Duration) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Writer{
		sink:         sink,
		batchSize:    batchSize,
		maxQueueSize: maxQueueSize,
		interval:     interval,
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *Writer) Start() {
	go w.loop()
}

// Enqueue appends a record and requests an immediate flush once a size
// trigger is hit. Ownership of the record passes to the writer.
func (w *Writer) Enqueue(rec model.LocationRecord) {
	w.mu.Lock()
	w.queue = append(w.queue, rec)
	trigger := len(w.queue) >= w.batchSize || len(w.queue) >= w.maxQueueSize
	w.mu.Unlock()

	if trigger {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// QueueLen reports the current queue depth.
func (w *Writer) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops the loop and drains whatever is still queued.
func (w *Writer) Close() {
	close(w.stop)
	<-w.done
	if n := w.QueueLen(); n > 0 {
		log.Infof("Flushing %d queued location records on shutdown", n)
		w.Flush()
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-w.kick:
			w.Flush()
		case <-ticker.C:
			w.Flush()
		}
	}
}

// Flush writes one snapshot of the queue. At most one flush runs at a time;
// a call arriving while another flush is in progress is a no-op and the next
// trigger retries.
func (w *Writer) Flush() {
	w.mu.Lock()
	if w.processing || len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	w.processing = true
	snapshot := w.queue
	w.queue = nil
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.processing = false
		w.mu.Unlock()
	}()

	toSave := downsample(snapshot)

	start := time.Now()
	if err := w.sink.SaveBatch(toSave); err != nil {
		log.Errorf("Failed to flush location batch of %d: %v", len(toSave), err)
		w.requeueSubset(snapshot)
		return
	}

	if len(snapshot) > 10 {
		log.Debugf("Flushed %d of %d queued location records in %s",
			len(toSave), len(snapshot), time.Since(start))
	}
}

// requeueSubset puts a filtered portion of a failed batch back at the head of
// the queue. Persistent failures must not grow the queue without bound, so
// only every 3rd record plus the first 10 return.
func (w *Writer) requeueSubset(failed []model.LocationRecord) {
	var kept []model.LocationRecord
	for i, rec := range failed {
		if i%3 == 0 || i < 10 {
			kept = append(kept, rec)
		}
	}

	w.mu.Lock()
	w.queue = append(kept, w.queue...)
	w.mu.Unlock()
}

// downsample bounds per-vehicle write amplification within one batch: a
// vehicle with more than downsampleHardLimit records keeps only its newest
// fix and every 3rd older one.
func downsample(batch []model.LocationRecord) []model.LocationRecord {
	groups := make(map[string][]model.LocationRecord)
	order := make([]string, 0, len(batch))
	for _, rec := range batch {
		if _, seen := groups[rec.VehicleID]; !seen {
			order = append(order, rec.VehicleID)
		}
		groups[rec.VehicleID] = append(groups[rec.VehicleID], rec)
	}

	var out []model.LocationRecord
	for _, vehicleID := range order {
		group := groups[vehicleID]
		if len(group) > downsampleThreshold {
			sort.Slice(group, func(i, j int) bool {
				return group[i].Timestamp > group[j].Timestamp
			})
			if len(group) > downsampleHardLimit {
				kept := group[:1:1]
				for i := 1; i < len(group); i++ {
					if i%3 == 0 {
						kept = append(kept, group[i])
					}
				}
				group = kept
			}
		}
		out = append(out, group...)
	}
	return out
}
