package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"careflow/pkg/persistence"
)

// Date formats used across the appointment tools.
const (
	dateLayout = "02-01-2006"
	slotLayout = "02-01-2006 15:04"
)

// Tool names. Each is registered as its own resilience dependency.
const (
	ToolCheckAvailabilityByDoctor         = "check_availability_by_doctor"
	ToolCheckAvailabilityBySpecialization = "check_availability_by_specialization"
	ToolSetAppointment                    = "set_appointment"
	ToolCancelAppointment                 = "cancel_appointment"
	ToolRescheduleAppointment             = "reschedule_appointment"
)

// AppointmentTools builds the full tool set over the schedule store.
// Mutations are scoped to the patient identifier carried by the call
// context (WithSubjectID); the model never chooses whose appointment it
// is changing.
func AppointmentTools(store *persistence.Store) []Tool {
	return []Tool{
		&checkAvailabilityByDoctorTool{store: store},
		&checkAvailabilityBySpecializationTool{store: store},
		&setAppointmentTool{store: store},
		&cancelAppointmentTool{store: store},
		&rescheduleAppointmentTool{store: store},
	}
}

// NewInformationRegistry returns the tools the information handler may use.
func NewInformationRegistry(store *persistence.Store) *Registry {
	return NewRegistry(
		&checkAvailabilityByDoctorTool{store: store},
		&checkAvailabilityBySpecializationTool{store: store},
	)
}

// NewBookingRegistry returns the tools the booking handler may use.
func NewBookingRegistry(store *persistence.Store) *Registry {
	return NewRegistry(AppointmentTools(store)...)
}

func requireSubject(ctx context.Context) (string, error) {
	subject := SubjectIDFrom(ctx)
	if subject == "" {
		return "", fmt.Errorf("no patient identifier on the call context")
	}
	return subject, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}

func parseDate(value string) (string, error) {
	if _, err := time.Parse(dateLayout, value); err != nil {
		return "", fmt.Errorf("date %q must use the DD-MM-YYYY format", value)
	}
	return value, nil
}

func parseSlot(value string) (string, error) {
	if _, err := time.Parse(slotLayout, value); err != nil {
		return "", fmt.Errorf("slot %q must use the DD-MM-YYYY HH:MM format", value)
	}
	return value, nil
}

// toolMessage is the payload shape every appointment tool returns. Domain
// outcomes (slot taken, no such booking) are messages the model can relay,
// not infrastructure errors.
type toolMessage struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Slots   []persistence.Slot `json:"slots,omitempty"`
}

// domainOutcome converts the store's sentinel errors into relayable tool
// messages, leaving infrastructure errors to propagate into the
// resilience layer.
func domainOutcome(err error, successMessage string) (any, error) {
	switch {
	case err == nil:
		return toolMessage{Success: true, Message: successMessage}, nil
	case errors.Is(err, persistence.ErrSlotNotFound),
		errors.Is(err, persistence.ErrSlotUnavailable),
		errors.Is(err, persistence.ErrAppointmentNotFound):
		return toolMessage{Success: false, Message: err.Error()}, nil
	default:
		return nil, err
	}
}

type checkAvailabilityByDoctorTool struct {
	store *persistence.Store
}

func (t *checkAvailabilityByDoctorTool) Name() string { return ToolCheckAvailabilityByDoctor }

func (t *checkAvailabilityByDoctorTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "List a doctor's free appointment slots on a given day.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"doctor_name": {Type: "string", Description: "Doctor's full name, lowercase"},
				"date":        {Type: "string", Description: "Day to check, DD-MM-YYYY"},
			},
			Required: []string{"doctor_name", "date"},
		},
	}
}

func (t *checkAvailabilityByDoctorTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	doctor, err := stringArg(args, "doctor_name")
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	date, err := stringArg(args, "date")
	if err == nil {
		date, err = parseDate(date)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}

	slots, err := t.store.AvailabilityByDoctor(ctx, strings.ToLower(doctor), date)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return toolMessage{Success: true, Message: fmt.Sprintf("no free slots for %s on %s", doctor, date)}, nil
	}
	return toolMessage{Success: true, Message: fmt.Sprintf("%d free slot(s)", len(slots)), Slots: slots}, nil
}

type checkAvailabilityBySpecializationTool struct {
	store *persistence.Store
}

func (t *checkAvailabilityBySpecializationTool) Name() string {
	return ToolCheckAvailabilityBySpecialization
}

func (t *checkAvailabilityBySpecializationTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "List free appointment slots across all doctors of a specialization on a given day.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"specialization": {Type: "string", Description: "Medical specialization, snake_case, e.g. general_dentist"},
				"date":           {Type: "string", Description: "Day to check, DD-MM-YYYY"},
			},
			Required: []string{"specialization", "date"},
		},
	}
}

func (t *checkAvailabilityBySpecializationTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	specialization, err := stringArg(args, "specialization")
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	date, err := stringArg(args, "date")
	if err == nil {
		date, err = parseDate(date)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}

	slots, err := t.store.AvailabilityBySpecialization(ctx, strings.ToLower(specialization), date)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return toolMessage{Success: true, Message: fmt.Sprintf("no free %s slots on %s", specialization, date)}, nil
	}
	return toolMessage{Success: true, Message: fmt.Sprintf("%d free slot(s)", len(slots)), Slots: slots}, nil
}

type setAppointmentTool struct {
	store *persistence.Store
}

func (t *setAppointmentTool) Name() string { return ToolSetAppointment }

func (t *setAppointmentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "Book an appointment slot with a doctor for the current patient.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"doctor_name": {Type: "string", Description: "Doctor's full name, lowercase"},
				"date_slot":   {Type: "string", Description: "Slot to book, DD-MM-YYYY HH:MM"},
			},
			Required: []string{"doctor_name", "date_slot"},
		},
	}
}

func (t *setAppointmentTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	doctor, err := stringArg(args, "doctor_name")
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	slot, err := stringArg(args, "date_slot")
	if err == nil {
		slot, err = parseSlot(slot)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}

	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, err
	}
	err = t.store.Book(ctx, strings.ToLower(doctor), slot, subject)
	return domainOutcome(err, fmt.Sprintf("booked %s with %s", slot, doctor))
}

type cancelAppointmentTool struct {
	store *persistence.Store
}

func (t *cancelAppointmentTool) Name() string { return ToolCancelAppointment }

func (t *cancelAppointmentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "Cancel the current patient's appointment at a given slot.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"doctor_name": {Type: "string", Description: "Doctor's full name, lowercase"},
				"date_slot":   {Type: "string", Description: "Slot to cancel, DD-MM-YYYY HH:MM"},
			},
			Required: []string{"doctor_name", "date_slot"},
		},
	}
}

func (t *cancelAppointmentTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	doctor, err := stringArg(args, "doctor_name")
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	slot, err := stringArg(args, "date_slot")
	if err == nil {
		slot, err = parseSlot(slot)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}

	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, err
	}
	err = t.store.Cancel(ctx, strings.ToLower(doctor), slot, subject)
	return domainOutcome(err, fmt.Sprintf("cancelled %s with %s", slot, doctor))
}

type rescheduleAppointmentTool struct {
	store *persistence.Store
}

func (t *rescheduleAppointmentTool) Name() string { return ToolRescheduleAppointment }

func (t *rescheduleAppointmentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: "Move the current patient's appointment with a doctor to a new slot.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"doctor_name":   {Type: "string", Description: "Doctor's full name, lowercase"},
				"old_date_slot": {Type: "string", Description: "Current slot, DD-MM-YYYY HH:MM"},
				"new_date_slot": {Type: "string", Description: "Desired slot, DD-MM-YYYY HH:MM"},
			},
			Required: []string{"doctor_name", "old_date_slot", "new_date_slot"},
		},
	}
}

func (t *rescheduleAppointmentTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	doctor, err := stringArg(args, "doctor_name")
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	oldSlot, err := stringArg(args, "old_date_slot")
	if err == nil {
		oldSlot, err = parseSlot(oldSlot)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}
	newSlot, err := stringArg(args, "new_date_slot")
	if err == nil {
		newSlot, err = parseSlot(newSlot)
	}
	if err != nil {
		return toolMessage{Success: false, Message: err.Error()}, nil
	}

	subject, err := requireSubject(ctx)
	if err != nil {
		return nil, err
	}
	err = t.store.Reschedule(ctx, strings.ToLower(doctor), oldSlot, newSlot, subject)
	return domainOutcome(err, fmt.Sprintf("rescheduled with %s from %s to %s", doctor, oldSlot, newSlot))
}
