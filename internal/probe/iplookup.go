package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nathannam/visitor-telemetry/internal/models"
	"github.com/nathannam/visitor-telemetry/internal/telemetry"
)

const maxLookupBody = 64 << 10

// IPInfo is the "ipInfo" field when the primary service answers.
type IPInfo struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	RegionCode  string  `json:"region_code"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Postal      string  `json:"postal"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`
}

// IPOnly is the "ipInfo" field when only the fallback service answers.
type IPOnly struct {
	IP     string `json:"ip"`
	Source string `json:"source"`
}

type primaryResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	RegionCode  string  `json:"region_code"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Postal      string  `json:"postal"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`

	// ipapi answers rate limiting with 200 and {"error": true}
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

type fallbackResponse struct {
	IP string `json:"ip"`
}

// IPLookupProbe asks an external service for the visitor's public IP and its
// geolocation, trying one fallback service before giving up.
type IPLookupProbe struct {
	Client      *http.Client
	PrimaryURL  string
	FallbackURL string
}

func (IPLookupProbe) Fields() []string { return []string{"ipInfo"} }

func (p IPLookupProbe) Collect(ctx context.Context) Fields {
	return Fields{"ipInfo": p.Lookup(ctx)}
}

// Lookup returns IPInfo, IPOnly or "unavailable".
func (p IPLookupProbe) Lookup(ctx context.Context) any {
	logger := telemetry.GetLogger()

	var primary primaryResponse
	err := p.getJSON(ctx, p.PrimaryURL, &primary)
	if err == nil && primary.Error {
		err = fmt.Errorf("lookup refused: %s", primary.Reason)
	}
	if err == nil {
		return IPInfo{
			IP:          primary.IP,
			City:        primary.City,
			Region:      primary.Region,
			RegionCode:  primary.RegionCode,
			Country:     primary.CountryName,
			CountryCode: primary.CountryCode,
			Postal:      primary.Postal,
			Latitude:    primary.Latitude,
			Longitude:   primary.Longitude,
			Timezone:    primary.Timezone,
			Org:         primary.Org,
			ASN:         primary.ASN,
		}
	}
	logger.InfoContext(ctx, "Primary IP lookup failed, trying fallback",
		"url", p.PrimaryURL,
		"error", err)

	var fallback fallbackResponse
	if err := p.getJSON(ctx, p.FallbackURL, &fallback); err != nil {
		logger.InfoContext(ctx, "Fallback IP lookup failed",
			"url", p.FallbackURL,
			"error", err)
		return models.Unavailable
	}
	return IPOnly{IP: fallback.IP, Source: "ipify"}
}

func (p IPLookupProbe) getJSON(ctx context.Context, url string, target any) error {
	if url == "" {
		return fmt.Errorf("no lookup url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLookupBody)).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
