package payment

import (
	"github.com/smallbiznis/schoolledger/internal/payment/repository"
	"github.com/smallbiznis/schoolledger/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
