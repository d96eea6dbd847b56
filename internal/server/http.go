package server

import (
	"context"
	stdhttp "net/http"
	"strconv"

	"Bastion/internal/biz"
	"Bastion/internal/conf"
	"Bastion/internal/server/middleware"
	"Bastion/internal/service"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewProtectionFilter, NewHTTPServer)

// NewProtectionFilter assembles the admission chain filter from its
// protection components.
func NewProtectionFilter(
	validator *biz.RequestValidator,
	backpressure *biz.BackpressureManager,
	queue *biz.RequestQueue,
	limiter *biz.RateLimiterUseCase,
	logger log.Logger,
) http.FilterFunc {
	return middleware.Protection(validator, backpressure, queue, limiter, logger)
}

// NewHTTPServer builds the HTTP server with the protection filter in
// front of routing and the logging middleware around every handler.
func NewHTTPServer(
	c *conf.Server,
	protection http.FilterFunc,
	simulation *service.SimulationService,
	admin *service.AdminService,
	logger log.Logger,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
		http.Filter(protection),
		http.ErrorEncoder(errorEncoder),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}

	srv := http.NewServer(opts...)
	registerRoutes(srv, simulation, admin)
	return srv
}

// errorEncoder adds the Retry-After header for denials that carry a
// retry hint, then falls back to the default kratos encoding.
func errorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	if retry := pkgerrors.RetryAfterSeconds(err); retry > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	http.DefaultErrorEncoder(w, r, err)
}

func registerRoutes(srv *http.Server, simulation *service.SimulationService, admin *service.AdminService) {
	r := srv.Route("/")

	r.GET("/healthz", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"status": "ok"})
	})

	r.POST("/v1/simulations", func(ctx http.Context) error {
		var req service.RunSimulationRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		http.SetOperation(ctx, "/bastion.v1.Simulation/Run")
		h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
			return simulation.Run(c, in.(*service.RunSimulationRequest))
		})
		out, err := h(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/admin/protection/status", func(ctx http.Context) error {
		http.SetOperation(ctx, "/bastion.v1.Admin/Status")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.Status(c), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/admin/breakers/{service}", func(ctx http.Context) error {
		name := ctx.Vars().Get("service")
		http.SetOperation(ctx, "/bastion.v1.Admin/BreakerState")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.BreakerState(c, name), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/admin/breakers/{service}/reset", func(ctx http.Context) error {
		name := ctx.Vars().Get("service")
		http.SetOperation(ctx, "/bastion.v1.Admin/ResetBreaker")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.ResetBreaker(c, name), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/admin/blocks", func(ctx http.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		http.SetOperation(ctx, "/bastion.v1.Admin/RecentBlocks")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return admin.RecentBlocks(c, limit)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.DELETE("/admin/blocks/{ip}", func(ctx http.Context) error {
		ip := ctx.Vars().Get("ip")
		http.SetOperation(ctx, "/bastion.v1.Admin/Unblock")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			admin.Unblock(c, ip)
			return map[string]string{"status": "ok"}, nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
