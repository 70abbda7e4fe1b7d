package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "schedule.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SeedSlots(context.Background(), []Slot{
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "05-09-2026 09:00", IsAvailable: true},
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "05-09-2026 09:30", IsAvailable: true},
		{DoctorName: "jane smith", Specialization: "general_dentist", DateSlot: "05-09-2026 09:00", IsAvailable: true},
		{DoctorName: "emma wilson", Specialization: "orthodontist", DateSlot: "05-09-2026 10:00", IsAvailable: true},
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "06-09-2026 09:00", IsAvailable: true},
	}))
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestSeedSlotsIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedSlots(ctx, []Slot{
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "05-09-2026 09:00", IsAvailable: true},
	}))

	slots, err := store.AvailabilityByDoctor(ctx, "john doe", "05-09-2026")
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestAvailabilityByDoctorFiltersDay(t *testing.T) {
	store := newTestStore(t)

	slots, err := store.AvailabilityByDoctor(context.Background(), "john doe", "06-09-2026")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "06-09-2026 09:00", slots[0].DateSlot)
}

func TestAvailabilityBySpecialization(t *testing.T) {
	store := newTestStore(t)

	slots, err := store.AvailabilityBySpecialization(context.Background(), "general_dentist", "05-09-2026")
	require.NoError(t, err)
	assert.Len(t, slots, 3)

	slots, err = store.AvailabilityBySpecialization(context.Background(), "orthodontist", "05-09-2026")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "emma wilson", slots[0].DoctorName)
}

func TestBookRemovesSlotFromAvailability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:00", "1000001"))

	slots, err := store.AvailabilityByDoctor(ctx, "john doe", "05-09-2026")
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	booked, err := store.AppointmentsForPatient(ctx, "1000001")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "05-09-2026 09:00", booked[0].DateSlot)
}

func TestBookTakenSlotFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:00", "1000001"))
	err := store.Book(ctx, "john doe", "05-09-2026 09:00", "1000002")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookUnknownSlotFails(t *testing.T) {
	store := newTestStore(t)
	err := store.Book(context.Background(), "john doe", "05-09-2026 23:00", "1000001")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestCancelReleasesSlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:00", "1000001"))
	require.NoError(t, store.Cancel(ctx, "john doe", "05-09-2026 09:00", "1000001"))

	slots, err := store.AvailabilityByDoctor(ctx, "john doe", "05-09-2026")
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestCancelRequiresOwningPatient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:00", "1000001"))
	err := store.Cancel(ctx, "john doe", "05-09-2026 09:00", "1000002")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRescheduleIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:00", "1000001"))
	require.NoError(t, store.Book(ctx, "john doe", "05-09-2026 09:30", "1000002"))

	// Target slot is taken, so the original booking must survive.
	err := store.Reschedule(ctx, "john doe", "05-09-2026 09:00", "05-09-2026 09:30", "1000001")
	require.ErrorIs(t, err, ErrSlotUnavailable)

	booked, err := store.AppointmentsForPatient(ctx, "1000001")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "05-09-2026 09:00", booked[0].DateSlot)

	// Moving to a free slot succeeds.
	require.NoError(t, store.Reschedule(ctx, "john doe", "05-09-2026 09:00", "06-09-2026 09:00", "1000001"))
	booked, err = store.AppointmentsForPatient(ctx, "1000001")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "06-09-2026 09:00", booked[0].DateSlot)
}
