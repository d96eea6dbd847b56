//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

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
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Engine, *conf.Protection, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newSimClient,
		newApp,
	))
}

// newSimClient builds the simulation engine client from config.
func newSimClient(engine *conf.Engine) (*simclient.Client, error) {
	return simclient.New(engine.BaseURL, engine.ProxyURL, engine.Timeout.AsDuration())
}
