package cashsession

import (
	"github.com/smallbiznis/schoolledger/internal/cashsession/repository"
	"github.com/smallbiznis/schoolledger/internal/cashsession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cashsession.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
