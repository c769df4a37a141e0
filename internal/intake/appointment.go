package intake

import "encoding/json"

// Appointment is a bookable slot with a provider.
type Appointment struct {
	Provider  string `json:"provider"`
	Specialty string `json:"specialty,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// UnmarshalJSON accepts "doctor" as an alias for "provider".
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Provider  string `json:"provider"`
		Doctor    string `json:"doctor"`
		Specialty string `json:"specialty"`
		Start     string `json:"start"`
		End       string `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	provider := raw.Provider
	if provider == "" {
		provider = raw.Doctor
	}
	*a = Appointment{
		Provider:  provider,
		Specialty: raw.Specialty,
		Start:     raw.Start,
		End:       raw.End,
	}
	return nil
}

// IsZero reports whether the appointment is missing any of provider, start or end.
func (a Appointment) IsZero() bool {
	return a.Provider == "" || a.Start == "" || a.End == ""
}
