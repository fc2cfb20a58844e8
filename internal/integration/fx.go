package integration

import (
	"go.uber.org/fx"

	"github.com/karipay/toyyibpay-bridge/internal/integration/repository"
	"github.com/karipay/toyyibpay-bridge/internal/integration/service"
)

var Module = fx.Module("integration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
