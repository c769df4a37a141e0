package intake

// Field names an intake record field as it appears on the wire.
type Field string

const (
	FieldPatientName        Field = "patient_name"
	FieldDateOfBirth        Field = "date_of_birth"
	FieldInsurancePayerName Field = "insurance_payer_name"
	FieldInsurancePayerID   Field = "insurance_payer_id"
	FieldHasReferral        Field = "has_referral"
	FieldReferringPhysician Field = "referring_physician"
	FieldChiefComplaint     Field = "chief_complaint"
	FieldAddress            Field = "address"
	FieldAddressIsValid     Field = "address_is_valid"
	FieldPhone              Field = "phone"
	FieldEmail              Field = "email"
	FieldAppointmentSlot    Field = "appointment_slot"
)

// Fields lists every intake field in record order.
var Fields = []Field{
	FieldPatientName,
	FieldDateOfBirth,
	FieldInsurancePayerName,
	FieldInsurancePayerID,
	FieldHasReferral,
	FieldReferringPhysician,
	FieldChiefComplaint,
	FieldAddress,
	FieldAddressIsValid,
	FieldPhone,
	FieldEmail,
	FieldAppointmentSlot,
}

// requiredFields must all be set for the record to be complete.
// FieldReferringPhysician is added conditionally and FieldEmail never is.
var requiredFields = []Field{
	FieldPatientName,
	FieldDateOfBirth,
	FieldInsurancePayerName,
	FieldInsurancePayerID,
	FieldHasReferral,
	FieldChiefComplaint,
	FieldAddress,
	FieldAddressIsValid,
	FieldPhone,
	FieldAppointmentSlot,
}

// aliases maps names the model tends to use onto canonical fields.
var aliases = map[string]Field{
	"full_name":          FieldPatientName,
	"name":               FieldPatientName,
	"patient_full_name":  FieldPatientName,
	"dob":                FieldDateOfBirth,
	"birth_date":         FieldDateOfBirth,
	"referral_physician": FieldReferringPhysician,
	"referring_doctor":   FieldReferringPhysician,
	"phone_number":       FieldPhone,
	"email_address":      FieldEmail,
	"reason_for_visit":   FieldChiefComplaint,
	"address_text":       FieldAddress,
}

// Canonical resolves a field name or alias to its canonical field.
func Canonical(name string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == name {
			return f, true
		}
	}
	f, ok := aliases[name]
	return f, ok
}

// IsAlias reports whether name is an alias rather than a canonical field name.
func IsAlias(name string) bool {
	_, ok := aliases[name]
	return ok
}
