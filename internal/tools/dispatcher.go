package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lexiqai/voice-intake/internal/address"
	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/lexiqai/voice-intake/internal/realtime"
	"github.com/rs/zerolog"
)

// Failure reasons produced by the dispatcher itself.
const (
	ReasonUnknownFunction       = "unknown_function"
	ReasonMissingRequiredFields = "missing_required_fields"
	ReasonLookupFailed          = "lookup_failed"
	ReasonTimeout               = "timeout"
)

// AddressValidator normalizes a free-form address.
type AddressValidator interface {
	ValidateAddress(ctx context.Context, text string) address.Result
}

// AppointmentLister lists bookable slots.
type AppointmentLister interface {
	AvailableAppointments(ctx context.Context) ([]intake.Appointment, error)
}

// Notifier delivers a booking confirmation.
type Notifier interface {
	SendConfirmation(ctx context.Context, appt intake.Appointment, record intake.Snapshot) error
}

// Failure is the result of any call that could not do its job.
type Failure struct {
	OK          bool     `json:"ok"`
	Reason      string   `json:"reason"`
	Function    string   `json:"function,omitempty"`
	MissingKeys []string `json:"missing_keys,omitempty"`
}

// AddressResult is returned by validate_address on a successful lookup.
type AddressResult struct {
	OK         bool               `json:"ok"`
	IsValid    bool               `json:"is_valid"`
	Missing    []string           `json:"missing"`
	Normalized address.Components `json:"normalized"`
}

// UpdateResult is returned by update_intake_state.
type UpdateResult struct {
	OK            bool            `json:"ok"`
	State         intake.Snapshot `json:"state"`
	IgnoredFields []string        `json:"ignored_fields,omitempty"`
}

// AppointmentsResult is returned by get_available_appointments.
type AppointmentsResult struct {
	Appointments []intake.Appointment `json:"appointments"`
}

// FinalizeResult is returned by finalize_appointment once the record is complete.
// EmailError is null when the confirmation went out.
type FinalizeResult struct {
	OK            bool    `json:"ok"`
	EmailError    *string `json:"email_error"`
	StateComplete bool    `json:"state_complete"`
}

// Dispatcher executes model function calls against one call's intake record.
type Dispatcher struct {
	address      AddressValidator
	appointments AppointmentLister
	notifier     Notifier
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewDispatcher creates a dispatcher. Every call is bounded by timeout.
func NewDispatcher(addr AddressValidator, appts AppointmentLister, notifier Notifier, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		address:      addr,
		appointments: appts,
		notifier:     notifier,
		timeout:      timeout,
		logger:       observability.WithComponent("tools"),
	}
}

// Dispatch runs one function call and returns exactly one result. It never
// fails: collaborator problems are reported inside the result.
func (d *Dispatcher) Dispatch(ctx context.Context, state *intake.State, call realtime.FunctionCall) any {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	var result any
	switch call.Name {
	case FuncValidateAddress:
		result = d.validateAddress(ctx, state, call.Arguments)
	case FuncUpdateIntakeState:
		result = d.updateIntakeState(state, call.Arguments)
	case FuncGetAvailableAppointments:
		result = d.getAvailableAppointments(ctx)
	case FuncFinalizeAppointment:
		result = d.finalizeAppointment(ctx, state, call.Arguments)
	default:
		result = Failure{OK: false, Reason: ReasonUnknownFunction, Function: call.Name}
	}

	outcome := outcomeOf(result)
	name := call.Name
	if outcome == "unknown" {
		name = "unknown"
	}
	observability.RecordToolCall(name, outcome, time.Since(start))
	d.logger.Info().
		Str("function", call.Name).
		Str("call_id", call.CallID).
		Str("outcome", outcome).
		Dur("latency", time.Since(start)).
		Msg("Function call handled")
	return result
}

// Encode renders a result as the JSON text sent back to the model.
func Encode(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(Failure{OK: false, Reason: "encode_failed"})
	}
	return string(data)
}

func (d *Dispatcher) validateAddress(ctx context.Context, state *intake.State, args map[string]any) any {
	text := stringArg(args, "address_text")
	if text == "" {
		text = stringArg(args, "address")
	}

	res := d.address.ValidateAddress(ctx, text)
	if !res.OK {
		if text != "" {
			state.SetAddress(text, nil)
		}
		return Failure{OK: false, Reason: res.Reason}
	}

	valid := res.IsValid
	state.SetAddress(text, &valid)
	missing := res.Missing
	if missing == nil {
		missing = []string{}
	}
	return AddressResult{
		OK:         true,
		IsValid:    res.IsValid,
		Missing:    missing,
		Normalized: res.Normalized,
	}
}

func (d *Dispatcher) updateIntakeState(state *intake.State, args map[string]any) any {
	patch, ignored := intake.ParsePatch(args)
	state.Apply(patch)
	if len(ignored) > 0 {
		d.logger.Debug().Strs("ignored_fields", ignored).Msg("Ignored intake fields")
	}
	return UpdateResult{
		OK:            true,
		State:         state.Snapshot(),
		IgnoredFields: ignored,
	}
}

func (d *Dispatcher) getAvailableAppointments(ctx context.Context) any {
	appts, err := d.appointments.AvailableAppointments(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Appointment lookup failed")
		return Failure{OK: false, Reason: failureReason(err, ReasonLookupFailed)}
	}
	if appts == nil {
		appts = []intake.Appointment{}
	}
	return AppointmentsResult{Appointments: appts}
}

func (d *Dispatcher) finalizeAppointment(ctx context.Context, state *intake.State, args map[string]any) any {
	patch, _ := intake.ParsePatch(map[string]any{
		string(intake.FieldAppointmentSlot): args["appointment"],
	})
	// The call's appointment always replaces the recorded one, so a missing
	// or malformed argument can never book a slot chosen earlier.
	var appt intake.Appointment
	if patch.AppointmentSlot != nil {
		appt = *patch.AppointmentSlot
	}
	state.SetAppointment(appt)

	record := state.Snapshot()
	if missing := record.MissingKeys(); len(missing) > 0 {
		return Failure{OK: false, Reason: ReasonMissingRequiredFields, MissingKeys: missing}
	}

	var emailErr *string
	if err := d.notifier.SendConfirmation(ctx, *record.AppointmentSlot, record); err != nil {
		d.logger.Warn().Err(err).Msg("Confirmation email failed")
		msg := err.Error()
		emailErr = &msg
	}
	return FinalizeResult{
		OK:            emailErr == nil,
		EmailError:    emailErr,
		StateComplete: true,
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func failureReason(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return fallback
}

func outcomeOf(result any) string {
	switch r := result.(type) {
	case Failure:
		if r.Reason == ReasonUnknownFunction {
			return "unknown"
		}
		return "error"
	case FinalizeResult:
		if !r.OK {
			return "error"
		}
	}
	return "ok"
}
