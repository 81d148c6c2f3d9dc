package license

import (
	"github.com/smallbiznis/keygate/internal/license/repository"
	"github.com/smallbiznis/keygate/internal/license/service"
	"go.uber.org/fx"
)

var Module = fx.Module("license",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
