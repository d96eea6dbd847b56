package service

import (
	"context"
	"encoding/json"

	"Bastion/internal/biz"
	pkglog "Bastion/pkg/log"
	"Bastion/pkg/simclient"

	"github.com/go-kratos/kratos/v2/log"
)

// RunSimulationRequest is the public run-simulation payload.
type RunSimulationRequest struct {
	TenantID string          `json:"tenant_id,omitempty"`
	Scenario string          `json:"scenario"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// RunSimulationResponse mirrors the engine reply plus the gateway
// request identifier.
type RunSimulationResponse struct {
	RequestID    string          `json:"request_id"`
	SimulationID string          `json:"simulation_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// SimulationService forwards admitted requests to the simulation
// engine through the circuit breaker.
type SimulationService struct {
	breaker *biz.CircuitBreakerUseCase
	client  *simclient.Client
	logger  *log.Helper
}

// NewSimulationService creates a SimulationService.
func NewSimulationService(breaker *biz.CircuitBreakerUseCase, client *simclient.Client, logger log.Logger) *SimulationService {
	return &SimulationService{
		breaker: breaker,
		client:  client,
		logger:  log.NewHelper(logger),
	}
}

// Run submits one simulation. Failures and timeouts of the engine feed
// the breaker; an open breaker fails fast without touching the engine.
func (s *SimulationService) Run(ctx context.Context, req *RunSimulationRequest) (*RunSimulationResponse, error) {
	requestID := pkglog.RequestID(ctx)

	var engineResp *simclient.RunResponse
	err := s.breaker.Call(ctx, biz.SimulationEngineService, func(ctx context.Context) error {
		var callErr error
		engineResp, callErr = s.client.Run(ctx, &simclient.RunRequest{
			RequestID: requestID,
			TenantID:  req.TenantID,
			Scenario:  req.Scenario,
			Params:    req.Params,
		})
		return callErr
	})
	if err != nil {
		s.logger.WithContext(ctx).Errorw("msg", "simulation run failed", "request_id", requestID, "scenario", req.Scenario, "error", err)
		return nil, err
	}

	return &RunSimulationResponse{
		RequestID:    requestID,
		SimulationID: engineResp.SimulationID,
		Status:       engineResp.Status,
		Result:       engineResp.Result,
	}, nil
}
