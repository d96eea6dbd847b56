// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"Bastion/internal/biz"
	"Bastion/internal/conf"
	"Bastion/internal/data"
	"Bastion/internal/server"
	"Bastion/internal/service"
	"Bastion/pkg/simclient"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
)

import (
	_ "go.uber.org/automaxprocs"
)

// Injectors from wire.go:

// wireApp init kratos application.
func wireApp(confServer *conf.Server, confData *conf.Data, engine *conf.Engine, protection *conf.Protection, logger log.Logger) (*kratos.App, func(), error) {
	requestValidator := biz.NewRequestValidator(protection, logger)
	requestQueue := biz.NewRequestQueue(protection, logger)
	client, cleanup, err := data.NewRedisClient(confData, logger)
	if err != nil {
		return nil, nil, err
	}
	breakerStateRepoImpl := data.NewBreakerStateRepo(confData, client, logger)
	db, cleanup2, err := data.NewMySQLClient(confData, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	webhookClient := data.NewWebhook(protection, logger)
	protectionAudit := data.NewProtectionAudit(db, webhookClient, logger)
	circuitBreakerUseCase := biz.NewCircuitBreakerUseCase(breakerStateRepoImpl, protection, protectionAudit, logger)
	backpressureManager := biz.NewBackpressureManager(protection, requestQueue, circuitBreakerUseCase, logger)
	redisCounterStore := data.NewRedisCounterStore(confData, client, logger)
	memoryStore := data.NewMemoryStore(logger)
	rateLimiterUseCase := biz.NewRateLimiterUseCase(redisCounterStore, memoryStore, protection, protectionAudit, logger)
	filterFunc := server.NewProtectionFilter(requestValidator, backpressureManager, requestQueue, rateLimiterUseCase, logger)
	simclientClient, err := newSimClient(engine)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	simulationService := service.NewSimulationService(circuitBreakerUseCase, simclientClient, logger)
	adminService := service.NewAdminService(rateLimiterUseCase, circuitBreakerUseCase, requestQueue, backpressureManager, protectionAudit, logger)
	httpServer := server.NewHTTPServer(confServer, filterFunc, simulationService, adminService, logger)
	app := newApp(logger, httpServer, requestQueue, rateLimiterUseCase, protectionAudit)
	return app, func() {
		cleanup2()
		cleanup()
	}, nil
}

// wire.go:

// newSimClient builds the simulation engine client from config.
func newSimClient(engine *conf.Engine) (*simclient.Client, error) {
	return simclient.New(engine.BaseURL, engine.ProxyURL, engine.Timeout.AsDuration())
}
