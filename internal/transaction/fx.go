package transaction

import (
	"go.uber.org/fx"

	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/ingress"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/repository"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/service"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *toyyibpay.Client) service.Gateway { return c }),
	fx.Provide(func(c *ghl.Client) service.Notifier { return c }),
	fx.Provide(service.New),
	fx.Provide(ingress.New),
)
