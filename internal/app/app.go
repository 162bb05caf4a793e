package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database"
	"github.com/Additional-Code/nightowl/internal/event"
	"github.com/Additional-Code/nightowl/internal/geocode"
	"github.com/Additional-Code/nightowl/internal/logger"
	"github.com/Additional-Code/nightowl/internal/messaging"
	"github.com/Additional-Code/nightowl/internal/notify"
	"github.com/Additional-Code/nightowl/internal/observability"
	"github.com/Additional-Code/nightowl/internal/payment"
	"github.com/Additional-Code/nightowl/internal/presence"
	repositorycatalog "github.com/Additional-Code/nightowl/internal/repository/catalog"
	repositorycounter "github.com/Additional-Code/nightowl/internal/repository/counter"
	repositorycustomer "github.com/Additional-Code/nightowl/internal/repository/customer"
	repositoryorder "github.com/Additional-Code/nightowl/internal/repository/order"
	repositorypromotion "github.com/Additional-Code/nightowl/internal/repository/promotion"
	"github.com/Additional-Code/nightowl/internal/repository/uow"
	grpcserver "github.com/Additional-Code/nightowl/internal/server/grpc"
	httpserver "github.com/Additional-Code/nightowl/internal/server/http"
	servicecheckout "github.com/Additional-Code/nightowl/internal/service/checkout"
	servicedispatch "github.com/Additional-Code/nightowl/internal/service/dispatch"
	serviceorder "github.com/Additional-Code/nightowl/internal/service/order"
	servicequote "github.com/Additional-Code/nightowl/internal/service/quote"
	transporthttp "github.com/Additional-Code/nightowl/internal/transport/http"
	"github.com/Additional-Code/nightowl/internal/worker"
	workerorder "github.com/Additional-Code/nightowl/internal/worker/order"
)

// Infrastructure provides configuration, storage and external clients.
var Infrastructure = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	event.Module,
	presence.Module,
	notify.Module,
	payment.Module,
	geocode.Module,
)

// Repositories provides the persistence layer.
var Repositories = fx.Options(
	repositorycatalog.Module,
	repositorycounter.Module,
	repositorycustomer.Module,
	repositoryorder.Module,
	repositorypromotion.Module,
	uow.Module,
)

// Services provides the domain services.
var Services = fx.Options(
	servicequote.Module,
	servicecheckout.Module,
	servicedispatch.Module,
	serviceorder.Module,
)

// Core provides the foundational modules shared across executables. The
// order reactor is subscribed to the in-process bus so a process running
// without Kafka still dispatches and notifies.
var Core = fx.Options(
	Infrastructure,
	Repositories,
	Services,
	workerorder.Module,
)

// HTTP wires the HTTP and gRPC transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing: the Kafka consumer and the
// dispatch sweep.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.ConsumerModule,
)

// Module is the default application wiring (API only).
var Module = HTTP
