package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/ride-sync/internal/models"
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client talks to the ride backend's REST API. Requests carry the bearer
// token the client was handed; token issuance is someone else's problem.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{Timeout: timeout}}
}

// EstimateFare is a pure query; no state changes anywhere.
func (c *Client) EstimateFare(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.FareEstimate, error) {
	body := models.FareEstimateRequest{
		PickupLatitude:   pickup.Coordinate.Lat,
		PickupLongitude:  pickup.Coordinate.Lng,
		DropoffLatitude:  dropoff.Coordinate.Lat,
		DropoffLongitude: dropoff.Coordinate.Lng,
		RideType:         rideType,
	}
	var out models.FareEstimate
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides/estimate", body, &out); err != nil {
		return models.FareEstimate{}, err
	}
	return out, nil
}

// RequestRide creates the ride server-side and returns it.
func (c *Client) RequestRide(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.Ride, error) {
	body := models.RideRequestPayload{
		PickupLatitude:       pickup.Coordinate.Lat,
		PickupLongitude:      pickup.Coordinate.Lng,
		PickupAddress:        pickup.Address,
		DestinationLatitude:  dropoff.Coordinate.Lat,
		DestinationLongitude: dropoff.Coordinate.Lng,
		DestinationAddress:   dropoff.Address,
		RideType:             rideType,
	}
	var out models.RideWire
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides/request", body, &out); err != nil {
		return models.Ride{}, err
	}
	return out.Ride(), nil
}

func (c *Client) AcceptRide(ctx context.Context, rideID string) (models.Ride, error) {
	return c.transition(ctx, rideID, "accept", nil)
}

func (c *Client) StartRide(ctx context.Context, rideID string) (models.Ride, error) {
	return c.transition(ctx, rideID, "start", nil)
}

func (c *Client) CompleteRide(ctx context.Context, rideID string) (models.Ride, error) {
	return c.transition(ctx, rideID, "complete", nil)
}

func (c *Client) CancelRide(ctx context.Context, rideID string, reason models.CancelRequestPayload) (models.Ride, error) {
	return c.transition(ctx, rideID, "cancel", reason)
}

// RideHistory lists the caller's past rides.
func (c *Client) RideHistory(ctx context.Context) ([]models.Ride, error) {
	var out []models.RideWire
	if err := c.do(ctx, http.MethodGet, "/api/v1/rides/history", nil, &out); err != nil {
		return nil, err
	}
	rides := make([]models.Ride, 0, len(out))
	for _, w := range out {
		rides = append(rides, w.Ride())
	}
	return rides, nil
}

func (c *Client) transition(ctx context.Context, rideID, action string, body any) (models.Ride, error) {
	var out models.RideWire
	path := fmt.Sprintf("/api/v1/rides/%s/%s", rideID, action)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return models.Ride{}, err
	}
	return out.Ride(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
