package latefee

import (
	"github.com/smallbiznis/schoolledger/internal/latefee/service"
	"go.uber.org/fx"
)

var Module = fx.Module("latefee.service",
	fx.Provide(service.New),
)
