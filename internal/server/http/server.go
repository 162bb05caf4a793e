package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/observability"
	"github.com/Additional-Code/nightowl/internal/presentation/http/response"
	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

const readinessTimeout = 2 * time.Second

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Params lists the collaborators of the root router.
type Params struct {
	fx.In

	Config        config.Config
	Observability *observability.Manager `optional:"true"`
	Connections   *database.Connections  `optional:"true"`
	Cache         cache.Store            `optional:"true"`
	Logger        *zap.Logger
	Level         zap.AtomicLevel `optional:"true"`
}

// NewEcho configures the Echo router with the shared middleware chain and the
// operational endpoints.
func NewEcho(p Params) *echo.Echo {
	cfg, obs, logger := p.Config, p.Observability, p.Logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("http handler panicked",
				zap.Error(err),
				zap.String("path", c.Path()),
				zap.ByteString("stack", stack),
			)
			return err
		},
	}))
	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ready", readiness(p.Connections, p.Cache))

	if obs != nil && obs.MetricsEnabled() && obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	if cfg.HTTP.AdminEnabled && p.Level != (zap.AtomicLevel{}) {
		level := echo.WrapHandler(p.Level)
		e.GET("/admin/log-level", level)
		e.PUT("/admin/log-level", level)
	}

	return e
}

// errorHandler renders framework errors (unknown routes, bad methods, panics)
// in the same envelope as handler errors.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var status int
		appErr := errorbank.From(err)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			appErr = fromHTTPError(he)
		} else {
			status = appErr.StatusCode()
		}

		if status >= http.StatusInternalServerError {
			logger.Error("http request failed",
				zap.Error(err),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if buildErr := response.New(c).WithStatus(status).WithError(appErr).Build(); buildErr != nil {
			logger.Warn("write error response", zap.Error(buildErr))
		}
	}
}

func fromHTTPError(he *echo.HTTPError) *errorbank.AppError {
	message := http.StatusText(he.Code)
	if msg, ok := he.Message.(string); ok && msg != "" {
		message = msg
	}
	opts := []errorbank.Option{}
	if he.Internal != nil {
		opts = append(opts, errorbank.WithCause(he.Internal))
	}

	switch {
	case he.Code == http.StatusNotFound:
		return errorbank.NotFound(message, opts...)
	case he.Code == http.StatusTooManyRequests, he.Code == http.StatusServiceUnavailable:
		return errorbank.Unavailable(message, opts...)
	case he.Code >= http.StatusInternalServerError:
		return errorbank.Internal("internal error", opts...)
	default:
		return errorbank.BadRequest(message, opts...)
	}
}

// readiness requires the databases; a failing cache only degrades the
// response since every read falls back to the database.
func readiness(conns *database.Connections, store cache.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if conns == nil {
			return response.New(c).WithError(errorbank.Unavailable("database not configured")).Build()
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
		defer cancel()

		if err := conns.Writer.PingContext(ctx); err != nil {
			return response.New(c).WithError(errorbank.Unavailable("database unreachable", errorbank.WithCause(err))).Build()
		}
		if conns.Reader != nil && conns.Reader != conns.Writer {
			if err := conns.Reader.PingContext(ctx); err != nil {
				return response.New(c).WithError(errorbank.Unavailable("read replica unreachable", errorbank.WithCause(err))).Build()
			}
		}
		cacheState := "ok"
		if store == nil {
			cacheState = "absent"
		} else if err := store.Ping(ctx); err != nil {
			cacheState = "degraded"
		}
		return response.New(c).WithData(map[string]string{
			"status": "ready",
			"driver": conns.Driver(),
			"cache":  cacheState,
		}).Build()
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
