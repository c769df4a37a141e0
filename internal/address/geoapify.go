package address

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/rs/zerolog"
)

// Failure reasons reported in Result.Reason.
const (
	ReasonMissingKey    = "missing_key"
	ReasonNoMatch       = "no_match"
	ReasonRequestFailed = "request_failed"
)

// requiredComponents must be present for an address to be valid.
var requiredComponents = []string{"line1", "city", "state", "postal_code"}

// Components is a normalized postal address.
type Components struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country"`
	Confidence *float64 `json:"confidence"`
}

// Result is the outcome of one lookup. When OK is false only Reason is set.
type Result struct {
	OK         bool
	IsValid    bool
	Missing    []string
	Normalized Components
	Reason     string
}

// Failed builds a result for a lookup that produced no usable answer.
func Failed(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// GeoapifyClient normalizes free-form addresses with the Geoapify geocoder.
type GeoapifyClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGeoapifyClient creates a new geocoding client
func NewGeoapifyClient(cfg *config.Config) *GeoapifyClient {
	return &GeoapifyClient{
		apiKey:     cfg.GeoapifyAPIKey,
		apiURL:     cfg.GeoapifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     observability.WithComponent("address"),
	}
}

type geocodeResponse struct {
	Features []struct {
		Properties geocodeProperties `json:"properties"`
	} `json:"features"`
}

type geocodeProperties struct {
	AddressLine1 string   `json:"address_line1"`
	AddressLine2 string   `json:"address_line2"`
	City         string   `json:"city"`
	StateCode    string   `json:"state_code"`
	State        string   `json:"state"`
	Postcode     string   `json:"postcode"`
	CountryCode  string   `json:"country_code"`
	Confidence   *float64 `json:"confidence"`
	Rank         struct {
		Confidence *float64 `json:"confidence"`
	} `json:"rank"`
}

// ValidateAddress performs a single lookup. Failures never surface as
// errors; they are reported through Result.Reason.
func (c *GeoapifyClient) ValidateAddress(ctx context.Context, text string) Result {
	if c.apiKey == "" {
		return Failed(ReasonMissingKey)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Failed(ReasonNoMatch)
	}

	props, reason := c.lookup(ctx, text)
	if reason != "" {
		return Failed(reason)
	}

	normalized := Components{
		Line1:      props.AddressLine1,
		Line2:      props.AddressLine2,
		City:       props.City,
		State:      firstNonEmpty(props.StateCode, props.State),
		PostalCode: props.Postcode,
		Country:    props.CountryCode,
		Confidence: props.Rank.Confidence,
	}
	if normalized.Confidence == nil {
		normalized.Confidence = props.Confidence
	}

	missing := missingComponents(normalized)
	return Result{
		OK:         true,
		IsValid:    len(missing) == 0,
		Missing:    missing,
		Normalized: normalized,
	}
}

func (c *GeoapifyClient) lookup(ctx context.Context, text string) (geocodeProperties, string) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("apiKey", c.apiKey)
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build geocode request")
		return geocodeProperties{}, ReasonRequestFailed
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Geocode request failed")
		return geocodeProperties{}, ReasonRequestFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Geocode request rejected")
		return geocodeProperties{}, fmt.Sprintf("http_%d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode geocode response")
		return geocodeProperties{}, ReasonRequestFailed
	}
	if len(body.Features) == 0 {
		return geocodeProperties{}, ReasonNoMatch
	}
	return body.Features[0].Properties, ""
}

// Check reports whether the geocoder is configured.
func (c *GeoapifyClient) Check(ctx context.Context) (bool, error) {
	if c.apiKey == "" {
		return false, fmt.Errorf("GEOAPIFY_API_KEY not set")
	}
	return true, nil
}

func missingComponents(n Components) []string {
	values := map[string]string{
		"line1":       n.Line1,
		"city":        n.City,
		"state":       n.State,
		"postal_code": n.PostalCode,
	}
	missing := []string{}
	for _, key := range requiredComponents {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
