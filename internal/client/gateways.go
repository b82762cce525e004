package client

import (
	"context"
	"net/http"
)

// Gateway exposes a fleet port through the platform's edge.
type Gateway struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	FleetID    string `json:"fleet_id"`
	Protocol   string `json:"protocol"`
	TargetPort int    `json:"target_port"`
}

// CreateGatewayPayload is the body of a gateway creation call.
type CreateGatewayPayload struct {
	Name       string `json:"name"`
	Fleet      string `json:"fleet"`
	TargetPort int    `json:"target_port"`
}

// Gateways is the gateway resource service.
type Gateways struct {
	client *Client
}

func gatewaysPath(fleet string) string {
	return "/fleets/" + escape(fleet) + "/gateways"
}

// Create creates a gateway in fleet.
func (s *Gateways) Create(ctx context.Context, fleet string, payload CreateGatewayPayload) (*Gateway, error) {
	var gw Gateway
	if err := s.client.Call(ctx, http.MethodPost, gatewaysPath(fleet), payload, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

// List returns the gateways of fleet.
func (s *Gateways) List(ctx context.Context, fleet string) ([]Gateway, error) {
	var gateways []Gateway
	if err := s.client.Call(ctx, http.MethodGet, gatewaysPath(fleet), nil, &gateways); err != nil {
		return nil, err
	}
	return gateways, nil
}

// Get returns a single gateway.
func (s *Gateways) Get(ctx context.Context, fleet, gateway string) (*Gateway, error) {
	var gw Gateway
	if err := s.client.Call(ctx, http.MethodGet, gatewaysPath(fleet)+"/"+escape(gateway), nil, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

// Delete deletes a gateway.
func (s *Gateways) Delete(ctx context.Context, fleet, gateway string) error {
	return s.client.Call(ctx, http.MethodDelete, gatewaysPath(fleet)+"/"+escape(gateway), nil, nil)
}
