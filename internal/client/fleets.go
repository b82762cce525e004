package client

import (
	"context"
	"net/http"
)

// FleetStatus is the lifecycle state of a fleet.
type FleetStatus string

const (
	FleetActive    FleetStatus = "active"
	FleetDestroyed FleetStatus = "destroyed"
)

// Fleet is a named group of machines in a namespace.
type Fleet struct {
	ID        string      `json:"id"`
	Namespace string      `json:"namespace"`
	Name      string      `json:"name"`
	CreatedAt int64       `json:"created_at"`
	Status    FleetStatus `json:"status"`
}

// CreateFleetPayload is the body of a fleet creation call.
type CreateFleetPayload struct {
	Name string `json:"name"`
}

// Fleets is the fleet resource service.
type Fleets struct {
	client *Client
}

// Create creates a fleet.
func (s *Fleets) Create(ctx context.Context, payload CreateFleetPayload) (*Fleet, error) {
	var fleet Fleet
	if err := s.client.Call(ctx, http.MethodPost, "/fleets", payload, &fleet); err != nil {
		return nil, err
	}
	return &fleet, nil
}

// List returns the fleets of the namespace.
func (s *Fleets) List(ctx context.Context) ([]Fleet, error) {
	var fleets []Fleet
	if err := s.client.Call(ctx, http.MethodGet, "/fleets", nil, &fleets); err != nil {
		return nil, err
	}
	return fleets, nil
}
