// Package persistence provides SQLite-backed storage for doctor schedules
// and appointments. The store is injected into the appointment tools, not
// accessed through globals, so tests can run against isolated databases.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"careflow/pkg/logx"
)

// Sentinel errors for booking mutations. Tools translate these into
// patient-facing messages instead of failing the request.
var (
	// ErrSlotNotFound means no schedule entry exists for the doctor/slot.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrSlotUnavailable means the slot exists but is already taken.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrAppointmentNotFound means the patient holds no booking at the slot.
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Slot is one schedule entry at appointment granularity. DateSlot uses the
// DD-MM-YYYY HH:MM format throughout the system.
type Slot struct {
	DoctorName     string `json:"doctor_name"`
	Specialization string `json:"specialization"`
	DateSlot       string `json:"date_slot"`
	IsAvailable    bool   `json:"is_available"`
	PatientID      string `json:"patient_id,omitempty"`
}

// Store wraps the schedule database.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the schedule database at dbPath and
// brings the schema to the current version.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("schedule database ready: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SeedSlots inserts schedule entries, skipping any doctor/slot pair that
// already exists. Used at startup to load the clinic's schedule.
func (s *Store) SeedSlots(ctx context.Context, slots []Slot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO slots (doctor_name, specialization, date_slot, is_available, patient_id)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, slot := range slots {
		patient := sql.NullString{String: slot.PatientID, Valid: slot.PatientID != ""}
		if _, err := stmt.ExecContext(ctx, slot.DoctorName, slot.Specialization, slot.DateSlot, slot.IsAvailable, patient); err != nil {
			return fmt.Errorf("failed to seed slot %s/%s: %w", slot.DoctorName, slot.DateSlot, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	s.logger.Debug("seeded %d schedule slots", len(slots))
	return nil
}

// AvailabilityByDoctor returns the free slots for one doctor on one day
// (date in DD-MM-YYYY form).
func (s *Store) AvailabilityByDoctor(ctx context.Context, doctorName, date string) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT doctor_name, specialization, date_slot, is_available, patient_id
		FROM slots
		WHERE doctor_name = ? AND date_slot LIKE ? || ' %' AND is_available = 1
		ORDER BY date_slot`, doctorName, date)
}

// AvailabilityBySpecialization returns the free slots across all doctors
// of one specialization on one day.
func (s *Store) AvailabilityBySpecialization(ctx context.Context, specialization, date string) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT doctor_name, specialization, date_slot, is_available, patient_id
		FROM slots
		WHERE specialization = ? AND date_slot LIKE ? || ' %' AND is_available = 1
		ORDER BY doctor_name, date_slot`, specialization, date)
}

// AppointmentsForPatient returns the patient's current bookings.
func (s *Store) AppointmentsForPatient(ctx context.Context, patientID string) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT doctor_name, specialization, date_slot, is_available, patient_id
		FROM slots
		WHERE patient_id = ?
		ORDER BY date_slot`, patientID)
}

// Book assigns the slot to the patient. Returns ErrSlotNotFound when the
// doctor has no such slot and ErrSlotUnavailable when it is taken.
func (s *Store) Book(ctx context.Context, doctorName, dateSlot, patientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin booking transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := bookInTx(ctx, tx, doctorName, dateSlot, patientID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	s.logger.Info("booked %s with %s for patient %s", dateSlot, doctorName, patientID)
	return nil
}

// Cancel releases the patient's booking at the slot.
func (s *Store) Cancel(ctx context.Context, doctorName, dateSlot, patientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := cancelInTx(ctx, tx, doctorName, dateSlot, patientID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	s.logger.Info("cancelled %s with %s for patient %s", dateSlot, doctorName, patientID)
	return nil
}

// Reschedule moves the patient's booking from oldSlot to newSlot with the
// same doctor, atomically. Either both legs apply or neither does.
func (s *Store) Reschedule(ctx context.Context, doctorName, oldSlot, newSlot, patientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reschedule transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := cancelInTx(ctx, tx, doctorName, oldSlot, patientID); err != nil {
		return err
	}
	if err := bookInTx(ctx, tx, doctorName, newSlot, patientID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reschedule: %w", err)
	}
	s.logger.Info("rescheduled patient %s with %s from %s to %s", patientID, doctorName, oldSlot, newSlot)
	return nil
}

func bookInTx(ctx context.Context, tx *sql.Tx, doctorName, dateSlot, patientID string) error {
	var available bool
	err := tx.QueryRowContext(ctx,
		`SELECT is_available FROM slots WHERE doctor_name = ? AND date_slot = ?`,
		doctorName, dateSlot).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s at %s", ErrSlotNotFound, doctorName, dateSlot)
	}
	if err != nil {
		return fmt.Errorf("failed to look up slot: %w", err)
	}
	if !available {
		return fmt.Errorf("%w: %s at %s", ErrSlotUnavailable, doctorName, dateSlot)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE slots SET is_available = 0, patient_id = ? WHERE doctor_name = ? AND date_slot = ?`,
		patientID, doctorName, dateSlot)
	if err != nil {
		return fmt.Errorf("failed to book slot: %w", err)
	}
	return nil
}

func cancelInTx(ctx context.Context, tx *sql.Tx, doctorName, dateSlot, patientID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET is_available = 1, patient_id = NULL
		 WHERE doctor_name = ? AND date_slot = ? AND patient_id = ?`,
		doctorName, dateSlot, patientID)
	if err != nil {
		return fmt.Errorf("failed to cancel appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancellation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: patient %s with %s at %s", ErrAppointmentNotFound, patientID, doctorName, dateSlot)
	}
	return nil
}

func (s *Store) querySlots(ctx context.Context, query string, args ...any) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var slots []Slot
	for rows.Next() {
		var slot Slot
		var patient sql.NullString
		if err := rows.Scan(&slot.DoctorName, &slot.Specialization, &slot.DateSlot, &slot.IsAvailable, &patient); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slot.PatientID = patient.String
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate slots: %w", err)
	}
	return slots, nil
}
