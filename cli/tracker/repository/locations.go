package repository

import (
	"math"
	"time"

	"github.com/towfleet/tracking/cli/tracker/model"
	"github.com/towfleet/tracking/cli/tracker/source"
)

// HistoryPage is one page of persisted fixes for a vehicle.
type HistoryPage struct {
	Data      []model.LocationRecord `json:"data"`
	Total     int                    `json:"total"`
	Page      int                    `json:"page"`
	PageCount int                    `json:"pageCount"`
}

// Locations fronts the durable store for the rest of the service.
type Locations struct {
	Source source.Locations
}

func (p *Locations) SaveBatch(records []model.LocationRecord) error {
	return p.Source.InsertBatch(records)
}

func (p *Locations) GetLastKnownLocation(vehicleID string) (*model.LocationRecord, error) {
	return p.Source.LastByVehicle(vehicleID)
}

func (p *Locations) GetLocationHistory(vehicleID string, start, end time.Time, page, limit int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}

	records, total, err := p.Source.History(vehicleID, start, end, (page-1)*limit, limit)
	if err != nil {
		return HistoryPage{}, err
	}
	if records == nil {
		records = []model.LocationRecord{}
	}

	return HistoryPage{
		Data:      records,
		Total:     total,
		Page:      page,
		PageCount: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

func (p *Locations) DeleteOlderThan(cutoff time.Time, limit int) (int64, error) {
	return p.Source.DeleteOlderThan(cutoff, limit)
}

func (p *Locations) GetActiveVehicleCount(since time.Time) (int, error) {
	return p.Source.ActiveVehicleCount(since)
}
