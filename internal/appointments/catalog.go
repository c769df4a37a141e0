package appointments

import (
	"context"

	"github.com/lexiqai/voice-intake/internal/intake"
)

// Provider is a clinician who can be booked.
type Provider struct {
	Name      string
	Specialty string
}

// Slot is a bookable time window in ISO-8601.
type Slot struct {
	Start string
	End   string
}

// DefaultProviders and DefaultSlots back the demo catalog.
var (
	DefaultProviders = []Provider{
		{Name: "Dr. Frank Smith", Specialty: "Primary Care"},
		{Name: "Dr. Jessica Nguyen", Specialty: "Internal Medicine"},
		{Name: "Dr. Sarah Chen", Specialty: "Family Medicine"},
	}

	DefaultSlots = []Slot{
		{Start: "2025-08-22T09:00:00-05:00", End: "2025-08-22T09:20:00-05:00"},
		{Start: "2025-08-22T10:40:00-05:00", End: "2025-08-22T11:00:00-05:00"},
		{Start: "2025-08-22T13:30:00-05:00", End: "2025-08-22T13:50:00-05:00"},
		{Start: "2025-08-23T11:10:00-05:00", End: "2025-08-23T11:30:00-05:00"},
	}
)

// Catalog offers every slot with every provider.
type Catalog struct {
	providers []Provider
	slots     []Slot
}

// NewCatalog creates a catalog over the given providers and slots.
func NewCatalog(providers []Provider, slots []Slot) *Catalog {
	return &Catalog{providers: providers, slots: slots}
}

// NewDefaultCatalog returns the built-in demo catalog.
func NewDefaultCatalog() *Catalog {
	return NewCatalog(DefaultProviders, DefaultSlots)
}

// AvailableAppointments lists provider x slot, grouped by provider.
func (c *Catalog) AvailableAppointments(ctx context.Context) ([]intake.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]intake.Appointment, 0, len(c.providers)*len(c.slots))
	for _, p := range c.providers {
		for _, s := range c.slots {
			out = append(out, intake.Appointment{
				Provider:  p.Name,
				Specialty: p.Specialty,
				Start:     s.Start,
				End:       s.End,
			})
		}
	}
	return out, nil
}
