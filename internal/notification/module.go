package notification

import (
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		NewPublisher,
		NewService,
		NewHandler,
		NewDispatcher,
	),
	fx.Invoke((*Dispatcher).Start),
)
