package fiscal

import (
	"strings"

	"github.com/smallbiznis/schoolledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.fiscal",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Stamper {
	if strings.TrimSpace(cfg.Fiscal.Endpoint) == "" {
		return NoopStamper{}
	}
	return NewHTTPStamper(cfg.Fiscal.Endpoint, cfg.Fiscal.Token, cfg.Fiscal.Timeout)
}
