package intake

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Patch is a partial intake update. Nil fields are left untouched on merge.
type Patch struct {
	PatientName        *string
	DateOfBirth        *string
	InsurancePayerName *string
	InsurancePayerID   *string
	HasReferral        *bool
	ReferringPhysician *string
	ChiefComplaint     *string
	Address            *string
	AddressIsValid     *bool
	Phone              *string
	Email              *string
	AppointmentSlot    *Appointment
}

// ParsePatch builds a Patch from loosely typed tool arguments.
// Aliases are remapped first; a canonical key wins over an alias for the same field.
// Keys that are unknown or carry a value of the wrong shape are returned as ignored.
func ParsePatch(args map[string]any) (Patch, []string) {
	var p Patch
	var ignored []string

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	// aliases before canonical names, each group in lexical order
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := IsAlias(keys[i]), IsAlias(keys[j])
		if ai != aj {
			return ai
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		value := args[key]
		if value == nil {
			continue
		}
		field, ok := Canonical(key)
		if !ok || !p.set(field, value) {
			ignored = append(ignored, key)
		}
	}

	sort.Strings(ignored)
	return p, ignored
}

// IsEmpty reports whether the patch carries no values.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

func (p *Patch) set(field Field, value any) bool {
	switch field {
	case FieldHasReferral, FieldAddressIsValid:
		b, ok := asBool(value)
		if !ok {
			return false
		}
		if field == FieldHasReferral {
			p.HasReferral = &b
		} else {
			p.AddressIsValid = &b
		}
		return true

	case FieldAppointmentSlot:
		appt, ok := asAppointment(value)
		if !ok {
			return false
		}
		p.AppointmentSlot = &appt
		return true
	}

	s, ok := asString(value)
	if !ok {
		return false
	}
	switch field {
	case FieldPatientName:
		p.PatientName = &s
	case FieldDateOfBirth:
		p.DateOfBirth = &s
	case FieldInsurancePayerName:
		p.InsurancePayerName = &s
	case FieldInsurancePayerID:
		p.InsurancePayerID = &s
	case FieldReferringPhysician:
		p.ReferringPhysician = &s
	case FieldChiefComplaint:
		p.ChiefComplaint = &s
	case FieldAddress:
		p.Address = &s
	case FieldPhone:
		p.Phone = &s
	case FieldEmail:
		p.Email = &s
	default:
		return false
	}
	return true
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y":
			return true, true
		case "false", "no", "n":
			return false, true
		}
	}
	return false, false
}

func asAppointment(v any) (Appointment, bool) {
	if _, ok := v.(map[string]any); !ok {
		return Appointment{}, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Appointment{}, false
	}
	var appt Appointment
	if err := json.Unmarshal(raw, &appt); err != nil {
		return Appointment{}, false
	}
	return appt, true
}
