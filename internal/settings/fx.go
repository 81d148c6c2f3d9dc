package settings

import (
	"github.com/smallbiznis/keygate/internal/settings/repository"
	"github.com/smallbiznis/keygate/internal/settings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settings",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
