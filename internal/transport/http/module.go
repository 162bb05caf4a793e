package http

import (
	"go.uber.org/fx"

	checkouttransport "github.com/Additional-Code/nightowl/internal/transport/http/checkout"
	dispatchtransport "github.com/Additional-Code/nightowl/internal/transport/http/dispatch"
	ordertransport "github.com/Additional-Code/nightowl/internal/transport/http/order"
	pricingtransport "github.com/Additional-Code/nightowl/internal/transport/http/pricing"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	checkouttransport.Module,
	ordertransport.Module,
	dispatchtransport.Module,
	pricingtransport.Module,
)
