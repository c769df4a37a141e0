package tools

import (
	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/realtime"
)

// Function names the model can call.
const (
	FuncValidateAddress          = "validate_address"
	FuncUpdateIntakeState        = "update_intake_state"
	FuncGetAvailableAppointments = "get_available_appointments"
	FuncFinalizeAppointment      = "finalize_appointment"
)

func str(description string) map[string]any {
	p := map[string]any{"type": "string"}
	if description != "" {
		p["description"] = description
	}
	return p
}

func appointmentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider":  str("Provider name exactly as offered."),
			"specialty": str(""),
			"start":     str("ISO-8601 start time as offered."),
			"end":       str("ISO-8601 end time as offered."),
		},
		"required": []string{"provider", "start", "end"},
	}
}

func intakeProperties() map[string]any {
	return map[string]any{
		string(intake.FieldPatientName):        str("Patient full legal name."),
		"full_name":                            str("Alias of patient_name."),
		string(intake.FieldDateOfBirth):        str("YYYY-MM-DD."),
		string(intake.FieldInsurancePayerName): str(""),
		string(intake.FieldInsurancePayerID):   str(""),
		string(intake.FieldHasReferral): map[string]any{
			"type":        "boolean",
			"description": "Whether the patient has a referral.",
		},
		string(intake.FieldReferringPhysician): str("Doctor or clinic name, if any."),
		string(intake.FieldChiefComplaint):     str("Reason for visit in patient's words."),
		string(intake.FieldAddress):            str("Free-form street address."),
		string(intake.FieldPhone):              str("E.164 preferred, but free-form accepted."),
		string(intake.FieldEmail): map[string]any{
			"type":   "string",
			"format": "email",
		},
		string(intake.FieldAppointmentSlot): appointmentSchema(),
	}
}

// Definitions returns the tool schemas sent in the session configuration.
func Definitions() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        FuncValidateAddress,
			Description: "Validate and normalize a US mailing address string; returns missing fields if any.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address_text": str("The raw address as provided by caller"),
				},
				"required": []string{"address_text"},
			},
		},
		{
			Type:        "function",
			Name:        FuncUpdateIntakeState,
			Description: "Persist one or more collected intake fields into the server-side call state.",
			Parameters: map[string]any{
				"type":        "object",
				"description": "Any subset of intake fields to persist into the server-side call state.",
				"properties":  intakeProperties(),
			},
		},
		{
			Type:        "function",
			Name:        FuncGetAvailableAppointments,
			Description: "List bookable provider slots.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Type:        "function",
			Name:        FuncFinalizeAppointment,
			Description: "Complete intake and send confirmations. Include {provider,start,end}.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"appointment": appointmentSchema(),
				},
				"required": []string{"appointment"},
			},
		},
	}
}
