package update

import (
	"github.com/smallbiznis/keygate/internal/update/service"
	"go.uber.org/fx"
)

var Module = fx.Module("update",
	fx.Provide(service.New),
)
