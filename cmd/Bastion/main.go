// Package main is the entry point of the Bastion protection gateway.
// It fronts the simulation engine with rate limiting, circuit breaking,
// request validation, queueing and backpressure.
package main

import (
	"context"
	"flag"
	"os"

	"Bastion/internal/biz"
	"Bastion/internal/conf"
	pkglog "Bastion/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "bastion"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(
	logger log.Logger,
	hs *http.Server,
	queue *biz.RequestQueue,
	limiter *biz.RateLimiterUseCase,
	audit biz.ProtectionAuditRepo,
) *kratos.App {
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	maintenance := startMaintenanceCron(queue, limiter, audit, logger)

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.BeforeStart(func(context.Context) error {
			queue.StartDrainer(drainCtx)
			return nil
		}),
		kratos.AfterStop(func(context.Context) error {
			cancelDrain()
			if maintenance != nil {
				maintenance.Stop()
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Fallback logger: zap is not up yet.
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, syncLogs := pkglog.New(pkglog.Options{
		Level:      bc.Log.Level,
		Format:     bc.Log.Format,
		Env:        bc.Log.Env,
		OutputFile: bc.Log.OutputFile,
	})
	defer syncLogs()

	logger := log.With(pkglog.NewKratosAdapter(zapLog),
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	log.NewHelper(logger).Infow(
		"msg", "bastion starting",
		"addr", bc.Server.Http.Addr,
		"redis", bc.Data.Redis.Addr != "",
		"ledger", bc.Data.Database.Source != "",
		"engine", bc.Engine.BaseURL,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Engine, bc.Protection, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
