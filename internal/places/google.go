package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-sync/internal/models"
)

// GoogleProvider performs autocomplete and geocode lookups against the
// Google Maps web service endpoints.
type GoogleProvider struct {
	Endpoint string // e.g. https://maps.googleapis.com/maps/api
	Key      string
	Client   *http.Client
}

func NewGoogleProvider(endpoint, key string) *GoogleProvider {
	return &GoogleProvider{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (g *GoogleProvider) Suggest(ctx context.Context, query string) ([]models.PlaceSuggestion, error) {
	q := url.Values{}
	q.Set("input", query)
	q.Set("key", g.Key)
	u := g.Endpoint + "/place/autocomplete/json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status      string `json:"status"`
		Predictions []struct {
			PlaceID       string `json:"place_id"`
			Formatting    struct {
				MainText      string `json:"main_text"`
				SecondaryText string `json:"secondary_text"`
			} `json:"structured_formatting"`
		} `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != "OK" && out.Status != "ZERO_RESULTS" {
		return nil, fmt.Errorf("autocomplete status %s", out.Status)
	}
	suggestions := make([]models.PlaceSuggestion, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		suggestions = append(suggestions, models.PlaceSuggestion{
			ID:            p.PlaceID,
			PrimaryText:   p.Formatting.MainText,
			SecondaryText: p.Formatting.SecondaryText,
		})
	}
	return suggestions, nil
}

func (g *GoogleProvider) Resolve(ctx context.Context, suggestionID string) (models.ResolvedLocation, error) {
	q := url.Values{}
	q.Set("place_id", suggestionID)
	q.Set("key", g.Key)
	u := g.Endpoint + "/geocode/json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ResolvedLocation{}, err
	}
	if out.Status == "ZERO_RESULTS" || len(out.Results) == 0 {
		return models.ResolvedLocation{}, ErrNotFound
	}
	if out.Status != "OK" {
		return models.ResolvedLocation{}, fmt.Errorf("geocode status %s", out.Status)
	}
	first := out.Results[0]
	return models.ResolvedLocation{
		Address:    first.FormattedAddress,
		Coordinate: models.Coordinate{Lat: first.Geometry.Location.Lat, Lng: first.Geometry.Location.Lng},
	}, nil
}
