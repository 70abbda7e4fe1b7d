package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careflow/pkg/persistence"
)

func newToolStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "schedule.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SeedSlots(context.Background(), []persistence.Slot{
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "05-09-2026 09:00", IsAvailable: true},
		{DoctorName: "john doe", Specialization: "general_dentist", DateSlot: "05-09-2026 09:30", IsAvailable: true},
		{DoctorName: "emma wilson", Specialization: "orthodontist", DateSlot: "05-09-2026 10:00", IsAvailable: true},
	}))
	return store
}

func patientCtx(id string) context.Context {
	return WithSubjectID(context.Background(), id)
}

func execMessage(t *testing.T, tool Tool, ctx context.Context, args map[string]any) toolMessage {
	t.Helper()
	out, err := tool.Exec(ctx, args)
	require.NoError(t, err)
	msg, ok := out.(toolMessage)
	require.True(t, ok, "tool returned %T", out)
	return msg
}

func TestRegistriesExposeExpectedTools(t *testing.T) {
	store := newToolStore(t)

	info := NewInformationRegistry(store)
	infoDefs := info.Definitions()
	require.Len(t, infoDefs, 2)
	assert.Equal(t, ToolCheckAvailabilityByDoctor, infoDefs[0].Name)
	assert.Equal(t, ToolCheckAvailabilityBySpecialization, infoDefs[1].Name)

	booking := NewBookingRegistry(store)
	assert.Len(t, booking.Definitions(), 5)
	_, err := booking.Get(ToolSetAppointment)
	require.NoError(t, err)
}

func TestCheckAvailabilityByDoctor(t *testing.T) {
	store := newToolStore(t)
	tool := &checkAvailabilityByDoctorTool{store: store}

	msg := execMessage(t, tool, context.Background(), map[string]any{
		"doctor_name": "john doe", "date": "05-09-2026",
	})
	assert.True(t, msg.Success)
	assert.Len(t, msg.Slots, 2)
}

func TestCheckAvailabilityRejectsBadDate(t *testing.T) {
	store := newToolStore(t)
	tool := &checkAvailabilityByDoctorTool{store: store}

	msg := execMessage(t, tool, context.Background(), map[string]any{
		"doctor_name": "john doe", "date": "2026-09-05",
	})
	assert.False(t, msg.Success)
	assert.Contains(t, msg.Message, "DD-MM-YYYY")
}

func TestCheckAvailabilityBySpecialization(t *testing.T) {
	store := newToolStore(t)
	tool := &checkAvailabilityBySpecializationTool{store: store}

	msg := execMessage(t, tool, context.Background(), map[string]any{
		"specialization": "orthodontist", "date": "05-09-2026",
	})
	assert.True(t, msg.Success)
	require.Len(t, msg.Slots, 1)
	assert.Equal(t, "emma wilson", msg.Slots[0].DoctorName)
}

func TestSetAppointment(t *testing.T) {
	store := newToolStore(t)
	tool := &setAppointmentTool{store: store}

	msg := execMessage(t, tool, patientCtx("1000001"), map[string]any{
		"doctor_name": "John Doe", "date_slot": "05-09-2026 09:00",
	})
	assert.True(t, msg.Success)

	booked, err := store.AppointmentsForPatient(context.Background(), "1000001")
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestSetAppointmentTakenSlotIsRelayedNotFatal(t *testing.T) {
	store := newToolStore(t)
	tool := &setAppointmentTool{store: store}

	first := execMessage(t, tool, patientCtx("1000001"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	})
	require.True(t, first.Success)

	second := execMessage(t, tool, patientCtx("1000002"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	})
	assert.False(t, second.Success)
	assert.Contains(t, second.Message, "unavailable")
}

func TestMutationsRequireSubjectOnContext(t *testing.T) {
	store := newToolStore(t)
	tool := &setAppointmentTool{store: store}

	_, err := tool.Exec(context.Background(), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	})
	assert.Error(t, err)
}

func TestCancelAppointment(t *testing.T) {
	store := newToolStore(t)
	set := &setAppointmentTool{store: store}
	cancel := &cancelAppointmentTool{store: store}

	require.True(t, execMessage(t, set, patientCtx("1000001"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	}).Success)

	msg := execMessage(t, cancel, patientCtx("1000001"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	})
	assert.True(t, msg.Success)

	booked, err := store.AppointmentsForPatient(context.Background(), "1000001")
	require.NoError(t, err)
	assert.Empty(t, booked)
}

func TestCancelSomeoneElsesAppointmentFails(t *testing.T) {
	store := newToolStore(t)
	set := &setAppointmentTool{store: store}
	cancel := &cancelAppointmentTool{store: store}

	require.True(t, execMessage(t, set, patientCtx("1000001"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	}).Success)

	msg := execMessage(t, cancel, patientCtx("1000002"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	})
	assert.False(t, msg.Success)
}

func TestRescheduleAppointment(t *testing.T) {
	store := newToolStore(t)
	set := &setAppointmentTool{store: store}
	reschedule := &rescheduleAppointmentTool{store: store}

	require.True(t, execMessage(t, set, patientCtx("1000001"), map[string]any{
		"doctor_name": "john doe", "date_slot": "05-09-2026 09:00",
	}).Success)

	msg := execMessage(t, reschedule, patientCtx("1000001"), map[string]any{
		"doctor_name":   "john doe",
		"old_date_slot": "05-09-2026 09:00",
		"new_date_slot": "05-09-2026 09:30",
	})
	assert.True(t, msg.Success)

	booked, err := store.AppointmentsForPatient(context.Background(), "1000001")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "05-09-2026 09:30", booked[0].DateSlot)
}
