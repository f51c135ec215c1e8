package providers

import (
	"github.com/smallbiznis/schoolledger/internal/providers/fiscal"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fiscal.Module,
	notify.Module,
	pdf.Module,
)
