package intake

import "sync"

// Snapshot is a point-in-time copy of an intake record.
// Unset fields serialize as null.
type Snapshot struct {
	PatientName        *string      `json:"patient_name"`
	DateOfBirth        *string      `json:"date_of_birth"`
	InsurancePayerName *string      `json:"insurance_payer_name"`
	InsurancePayerID   *string      `json:"insurance_payer_id"`
	HasReferral        *bool        `json:"has_referral"`
	ReferringPhysician *string      `json:"referring_physician"`
	ChiefComplaint     *string      `json:"chief_complaint"`
	Address            *string      `json:"address"`
	AddressIsValid     *bool        `json:"address_is_valid"`
	Phone              *string      `json:"phone"`
	Email              *string      `json:"email"`
	AppointmentSlot    *Appointment `json:"appointment_slot"`
}

// State is the mutable intake record for one call.
type State struct {
	mu   sync.RWMutex
	data Snapshot
}

// NewState returns a record with every field unset.
func NewState() *State {
	return &State{}
}

// Apply merges the non-nil fields of p into the record.
func (s *State) Apply(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignString(&s.data.PatientName, p.PatientName)
	assignString(&s.data.DateOfBirth, p.DateOfBirth)
	assignString(&s.data.InsurancePayerName, p.InsurancePayerName)
	assignString(&s.data.InsurancePayerID, p.InsurancePayerID)
	assignBool(&s.data.HasReferral, p.HasReferral)
	assignString(&s.data.ReferringPhysician, p.ReferringPhysician)
	assignString(&s.data.ChiefComplaint, p.ChiefComplaint)
	assignString(&s.data.Address, p.Address)
	assignBool(&s.data.AddressIsValid, p.AddressIsValid)
	assignString(&s.data.Phone, p.Phone)
	assignString(&s.data.Email, p.Email)
	if p.AppointmentSlot != nil {
		appt := *p.AppointmentSlot
		s.data.AppointmentSlot = &appt
	}
}

// SetAddress records the caller's address and its validity.
// A nil valid leaves the flag unset, which is what a failed lookup produces.
func (s *State) SetAddress(text string, valid *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Address = &text
	s.data.AddressIsValid = cloneBool(valid)
}

// SetAppointment records the chosen slot.
func (s *State) SetAppointment(appt Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AppointmentSlot = &appt
}

// Snapshot returns a deep copy of the record.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.clone()
}

// IsComplete reports whether every required field is set.
func (s *State) IsComplete() bool {
	return s.Snapshot().IsComplete()
}

// MissingKeys lists the required fields that are still unset.
func (s *State) MissingKeys() []string {
	return s.Snapshot().MissingKeys()
}

// IsComplete reports whether every required field is set. The referring
// physician is only required when the caller has a referral.
func (d Snapshot) IsComplete() bool {
	return len(d.MissingKeys()) == 0
}

// MissingKeys lists unmet required fields in record order.
func (d Snapshot) MissingKeys() []string {
	missing := []string{}
	for _, f := range Fields {
		if f == FieldReferringPhysician {
			if d.HasReferral != nil && *d.HasReferral && !d.isSet(f) {
				missing = append(missing, string(f))
			}
			continue
		}
		if !isRequired(f) {
			continue
		}
		if !d.isSet(f) {
			missing = append(missing, string(f))
		}
	}
	return missing
}

func (d Snapshot) isSet(f Field) bool {
	switch f {
	case FieldPatientName:
		return nonEmpty(d.PatientName)
	case FieldDateOfBirth:
		return nonEmpty(d.DateOfBirth)
	case FieldInsurancePayerName:
		return nonEmpty(d.InsurancePayerName)
	case FieldInsurancePayerID:
		return nonEmpty(d.InsurancePayerID)
	case FieldHasReferral:
		return d.HasReferral != nil
	case FieldReferringPhysician:
		return nonEmpty(d.ReferringPhysician)
	case FieldChiefComplaint:
		return nonEmpty(d.ChiefComplaint)
	case FieldAddress:
		return nonEmpty(d.Address)
	case FieldAddressIsValid:
		return d.AddressIsValid != nil
	case FieldPhone:
		return nonEmpty(d.Phone)
	case FieldEmail:
		return nonEmpty(d.Email)
	case FieldAppointmentSlot:
		return d.AppointmentSlot != nil && !d.AppointmentSlot.IsZero()
	}
	return false
}

func (d Snapshot) clone() Snapshot {
	out := Snapshot{
		PatientName:        cloneString(d.PatientName),
		DateOfBirth:        cloneString(d.DateOfBirth),
		InsurancePayerName: cloneString(d.InsurancePayerName),
		InsurancePayerID:   cloneString(d.InsurancePayerID),
		HasReferral:        cloneBool(d.HasReferral),
		ReferringPhysician: cloneString(d.ReferringPhysician),
		ChiefComplaint:     cloneString(d.ChiefComplaint),
		Address:            cloneString(d.Address),
		AddressIsValid:     cloneBool(d.AddressIsValid),
		Phone:              cloneString(d.Phone),
		Email:              cloneString(d.Email),
	}
	if d.AppointmentSlot != nil {
		appt := *d.AppointmentSlot
		out.AppointmentSlot = &appt
	}
	return out
}

func isRequired(f Field) bool {
	for _, r := range requiredFields {
		if r == f {
			return true
		}
	}
	return false
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

func assignString(dst **string, src *string) {
	if src != nil {
		*dst = cloneString(src)
	}
}

func assignBool(dst **bool, src *bool) {
	if src != nil {
		*dst = cloneBool(src)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
