package mysql

import (
	"database/sql"
	"fmt"
	"time"

	connector "github.com/towfleet/tracking/cli/tracker/connector"
	"github.com/towfleet/tracking/cli/tracker/model"
)

const locationColumns = `id, vehicle_id, dispatch_id, latitude, longitude, speed,
	bearing, distance_traveled, eta_seconds, registration_number, plate_number,
	vehicle_color, vehicle_make, vehicle_description, timestamp, created_at`

// LocationSource is the MySQL twin of the postgres source. Placeholders and
// the bounded DELETE differ, the rest mirrors it.
type LocationSource struct {
	connector connector.Connector
}

func (s *LocationSource) Initialize(c connector.Connector) {
	s.connector = c
}

func (s *LocationSource) db() (*sql.DB, error) {
	if s.connector == nil {
		return nil, fmt.Errorf("database connector is not initialized")
	}
	db := s.connector.GetConnection()
	if db == nil {
		return nil, fmt.Errorf("no active database connection")
	}
	return db, nil
}

func (s *LocationSource) InsertBatch(records []model.LocationRecord) error {
	if len(records) == 0 {
		return nil
	}

	db, err := s.db()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	const q = `
		INSERT INTO vehicle_location (id, vehicle_id, dispatch_id, latitude, longitude,
			speed, bearing, distance_traveled, eta_seconds, registration_number,
			plate_number, vehicle_color, vehicle_make, vehicle_description, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.Prepare(q)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		_, err := stmt.Exec(r.ID, r.VehicleID, nullable(r.DispatchID), r.Latitude, r.Longitude,
			r.Speed, r.BearingDeg, r.DistanceTraveled, r.ETASeconds, nullable(r.RegistrationNumber),
			nullable(r.PlateNumber), nullable(r.VehicleColor), nullable(r.VehicleMake),
			nullable(r.VehicleDescription), r.Time(), r.CreatedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record for vehicle %s: %w", r.VehicleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *LocationSource) LastByVehicle(vehicleID string) (*model.LocationRecord, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM vehicle_location
		WHERE vehicle_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, locationColumns)

	rec, err := scanLocation(db.QueryRow(q, vehicleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LocationSource) History(vehicleID string, start, end time.Time, offset, limit int) ([]model.LocationRecord, int, error) {
	db, err := s.db()
	if err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM vehicle_location
		WHERE vehicle_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC
		LIMIT ? OFFSET ?
	`, locationColumns)

	rows, err := db.Query(q, vehicleID, start, end, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []model.LocationRecord
	for rows.Next() {
		rec, err := scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	const countQ = `
		SELECT COUNT(id)
		FROM vehicle_location
		WHERE vehicle_id = ? AND timestamp BETWEEN ? AND ?
	`
	var total int
	if err := db.QueryRow(countQ, vehicleID, start, end).Scan(&total); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (s *LocationSource) DeleteOlderThan(cutoff time.Time, limit int) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	const q = `DELETE FROM vehicle_location WHERE timestamp < ? LIMIT ?`
	res, err := db.Exec(q, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *LocationSource) ActiveVehicleCount(since time.Time) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	const q = `SELECT COUNT(DISTINCT vehicle_id) FROM vehicle_location WHERE timestamp > ?`
	var count int
	if err := db.QueryRow(q, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLocation(row rowScanner) (*model.LocationRecord, error) {
	var (
		rec        model.LocationRecord
		dispatch   sql.NullString
		regNum     sql.NullString
		plate      sql.NullString
		color      sql.NullString
		make_      sql.NullString
		desc       sql.NullString
		deviceTime time.Time
	)
	err := row.Scan(&rec.ID, &rec.VehicleID, &dispatch, &rec.Latitude, &rec.Longitude,
		&rec.Speed, &rec.BearingDeg, &rec.DistanceTraveled, &rec.ETASeconds, &regNum,
		&plate, &color, &make_, &desc, &deviceTime, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.DispatchID = dispatch.String
	rec.RegistrationNumber = regNum.String
	rec.PlateNumber = plate.String
	rec.VehicleColor = color.String
	rec.VehicleMake = make_.String
	rec.VehicleDescription = desc.String
	rec.Timestamp = deviceTime.UnixMilli()
	return &rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
