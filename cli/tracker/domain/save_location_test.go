package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towfleet/tracking/cli/tracker/cache"
	"github.com/towfleet/tracking/cli/tracker/model"
)

type fakeBroadcaster struct {
	mu        sync.Mutex
	locations []model.EnrichedReport
	alerts    chan string
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{alerts: make(chan string, 8)}
}

func (f *fakeBroadcaster) BroadcastLocation(_ context.Context, e *model.EnrichedReport) {
	f.mu.Lock()
	f.locations = append(f.locations, *e)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) EmitAlert(_ context.Context, _, event string, _ interface{}) {
	f.alerts <- event
}

func (f *fakeBroadcaster) locationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locations)
}

type fakeSink struct {
	mu      sync.Mutex
	records []model.LocationRecord
}

func (f *fakeSink) Enqueue(rec model.LocationRecord) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
}

func (f *fakeSink) all() []model.LocationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.LocationRecord(nil), f.records...)
}

type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakeBus) Publish(_ string, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeRepo struct {
	rec   *model.LocationRecord
	calls int
}

func (f *fakeRepo) GetLastKnownLocation(string) (*model.LocationRecord, error) {
	f.calls++
	return f.rec, nil
}

type pipeline struct {
	saver       *SaveLocation
	broadcaster *fakeBroadcaster
	sink        *fakeSink
	bus         *fakeBus
	repo        *fakeRepo
	now         time.Time
}

func newPipeline(settings SaveLocationSettings) *pipeline {
	p := &pipeline{
		broadcaster: newFakeBroadcaster(),
		sink:        &fakeSink{},
		bus:         &fakeBus{},
		repo:        &fakeRepo{},
		now:         time.Unix(1700000000, 0),
	}
	p.saver = NewSaveLocation(settings, cache.NewLastKnown(nil), NewGeoAlerts(sfRegions(), settings.MaxSpeed),
		p.sink, p.broadcaster, p.bus, p.repo)
	p.saver.now = func() time.Time { return p.now }
	p.saver.random = func() float64 { return 0.99 }
	return p
}

func (p *pipeline) report(lat, lng, speed float64) model.LocationReport {
	return model.LocationReport{
		VehicleID:  "veh-1",
		DispatchID: "disp-1",
		Latitude:   lat,
		Longitude:  lng,
		Speed:      speed,
		Timestamp:  p.now.UnixMilli(),
	}
}

func TestSaveLocationStaleReportRejected(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})

	r := p.report(37.75, -122.45, 40)
	r.Timestamp = p.now.Add(-2 * time.Minute).UnixMilli()

	assert.False(t, p.saver.Run(context.Background(), r))
	assert.Empty(t, p.sink.all())
	assert.Zero(t, p.broadcaster.locationCount())
	assert.Zero(t, p.bus.count())

	_, ok := p.saver.Cache.Lookup(context.Background(), "veh-1")
	assert.False(t, ok)
}

func TestSaveLocationInvalidReportRejected(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})

	r := p.report(91, 0, 10)
	assert.False(t, p.saver.Run(context.Background(), r))

	r = p.report(0, 0, -1)
	assert.False(t, p.saver.Run(context.Background(), r))
	assert.Zero(t, p.broadcaster.locationCount())
}

func TestSaveLocationFirstFix(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})

	ok := p.saver.Run(context.Background(), p.report(37.75, -122.45, 40))
	require.True(t, ok)

	records := p.sink.all()
	require.Len(t, records, 1)
	assert.Zero(t, records[0].DistanceTraveled)
	assert.Zero(t, records[0].ETASeconds)
	assert.NotEmpty(t, records[0].ID)

	assert.Equal(t, 1, p.broadcaster.locationCount())

	cached, ok := p.saver.Cache.Lookup(context.Background(), "veh-1")
	require.True(t, ok)
	assert.Equal(t, 37.75, cached.Latitude)
}

func TestSaveLocationSecondFixEnriched(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})

	require.True(t, p.saver.Run(context.Background(), p.report(0, 0, 0)))

	p.now = p.now.Add(time.Second)
	second := p.report(0.01, 0, 36)
	second.Bearing = 90
	require.True(t, p.saver.Run(context.Background(), second))

	records := p.sink.all()
	require.Len(t, records, 2)
	assert.InDelta(t, 1.112, records[1].DistanceTraveled, 0.001)
	assert.Equal(t, 0, records[1].BearingDeg)
	assert.InDelta(t, 111, records[1].ETASeconds, 1)

	// The device-sent bearing is replaced by the computed one on the wire
	// field as well.
	assert.Equal(t, 0.0, records[1].Bearing)
}

func TestSaveLocationSpeedViolation(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, SpeedAlertEnabled: true, MaxSpeed: 120})

	require.True(t, p.saver.Run(context.Background(), p.report(37.75, -122.45, 150)))

	// Violations always reach the bus even when sampling would skip them.
	assert.Equal(t, 1, p.bus.count())

	select {
	case event := <-p.broadcaster.alerts:
		assert.Equal(t, "speedAlert", event)
	case <-time.After(time.Second):
		t.Fatal("expected a speed alert")
	}
}

func TestSaveLocationGeofenceViolation(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, GeofenceEnabled: true, MaxSpeed: 120})

	require.True(t, p.saver.Run(context.Background(), p.report(40.0, -122.45, 40)))

	assert.Equal(t, 1, p.bus.count())

	select {
	case event := <-p.broadcaster.alerts:
		assert.Equal(t, "geofenceAlert", event)
	case <-time.After(time.Second):
		t.Fatal("expected a geofence alert")
	}
}

func TestSaveLocationBusSampling(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})

	// Sampling never fires at 0.99.
	require.True(t, p.saver.Run(context.Background(), p.report(37.75, -122.45, 40)))
	assert.Zero(t, p.bus.count())

	// At 0.0 every update is published.
	p.saver.random = func() float64 { return 0.0 }
	p.now = p.now.Add(time.Second)
	require.True(t, p.saver.Run(context.Background(), p.report(37.75, -122.45, 40)))
	assert.Equal(t, 1, p.bus.count())
}

func TestSaveLocationRepoFallback(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: true, MaxSpeed: 120})
	prev := model.NewRecord(model.EnrichedReport{LocationReport: model.LocationReport{
		VehicleID: "veh-1",
		Latitude:  0,
		Longitude: 0,
		Timestamp: p.now.Add(-time.Second).UnixMilli(),
	}})
	p.repo.rec = &prev

	require.True(t, p.saver.Run(context.Background(), p.report(0.01, 0, 36)))

	assert.Equal(t, 1, p.repo.calls)
	records := p.sink.all()
	require.Len(t, records, 1)
	assert.InDelta(t, 1.112, records[0].DistanceTraveled, 0.001)
}

func TestSaveLocationPersistenceDisabled(t *testing.T) {
	p := newPipeline(SaveLocationSettings{PersistEnabled: false, MaxSpeed: 120})
	p.saver.Queue = nil

	require.True(t, p.saver.Run(context.Background(), p.report(37.75, -122.45, 40)))
	assert.Equal(t, 1, p.broadcaster.locationCount())
}
