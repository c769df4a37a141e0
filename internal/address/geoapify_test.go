package address

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/lexiqai/voice-intake/internal/config"
)

func newTestClient(url, key string) *GeoapifyClient {
	return NewGeoapifyClient(&config.Config{GeoapifyAPIKey: key, GeoapifyURL: url})
}

func TestValidateAddress_Valid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("text") != "1 Main St Springfield IL" || q.Get("apiKey") != "geo-key" || q.Get("limit") != "1" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"features":[{"properties":{
			"address_line1":"1 Main St","address_line2":"Springfield, IL 62701, United States",
			"city":"Springfield","state":"Illinois","state_code":"IL","postcode":"62701",
			"country_code":"us","rank":{"confidence":0.95}}}]}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, "geo-key").ValidateAddress(context.Background(), "1 Main St Springfield IL")
	if !res.OK || !res.IsValid {
		t.Fatalf("Expected ok and valid, got %+v", res)
	}
	if len(res.Missing) != 0 {
		t.Errorf("Expected no missing components, got %v", res.Missing)
	}
	if res.Normalized.State != "IL" {
		t.Errorf("Expected state code IL, got %q", res.Normalized.State)
	}
	if res.Normalized.Confidence == nil || *res.Normalized.Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %v", res.Normalized.Confidence)
	}
}

func TestValidateAddress_MissingComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[{"properties":{"city":"Springfield","state":"Illinois"}}]}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, "geo-key").ValidateAddress(context.Background(), "Springfield")
	if !res.OK || res.IsValid {
		t.Fatalf("Expected ok but invalid, got %+v", res)
	}
	if !reflect.DeepEqual(res.Missing, []string{"line1", "postal_code"}) {
		t.Errorf("Expected [line1 postal_code] missing, got %v", res.Missing)
	}
	if res.Normalized.State != "Illinois" {
		t.Errorf("Expected state name fallback, got %q", res.Normalized.State)
	}
}

func TestValidateAddress_Failures(t *testing.T) {
	status := http.StatusUnauthorized
	body := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, "geo-key")

	res := client.ValidateAddress(context.Background(), "1 Main St")
	if res.OK || res.Reason != "http_401" {
		t.Errorf("Expected http_401, got %+v", res)
	}

	status, body = http.StatusOK, `{"features":[]}`
	res = client.ValidateAddress(context.Background(), "nowhere")
	if res.OK || res.Reason != ReasonNoMatch {
		t.Errorf("Expected no_match, got %+v", res)
	}

	status, body = http.StatusOK, `not json`
	res = client.ValidateAddress(context.Background(), "1 Main St")
	if res.OK || res.Reason != ReasonRequestFailed {
		t.Errorf("Expected request_failed, got %+v", res)
	}
}

func TestValidateAddress_MissingKey(t *testing.T) {
	res := newTestClient("http://127.0.0.1:0", "").ValidateAddress(context.Background(), "1 Main St")
	if res.OK || res.Reason != ReasonMissingKey {
		t.Errorf("Expected missing_key, got %+v", res)
	}
}

func TestValidateAddress_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestClient(url, "geo-key").ValidateAddress(context.Background(), "1 Main St")
	if res.OK || res.Reason != ReasonRequestFailed {
		t.Errorf("Expected request_failed, got %+v", res)
	}
}
