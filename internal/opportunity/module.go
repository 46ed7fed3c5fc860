package opportunity

import (
	"OpportunityFinder/internal/auth"
	"OpportunityFinder/internal/notification"

	"go.uber.org/fx"
)

var Module = fx.Module("opportunity",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		func(n *notification.Service) Notifier { return n },
		func(r *auth.EmployeeRepository) EmployeeDirectory { return r },
		NewDecisionSyncer,
		NewService,
		NewHandler,
	),
	fx.Invoke((*DecisionSyncer).Start),
)
