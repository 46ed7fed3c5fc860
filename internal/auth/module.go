package auth

import (
	"OpportunityFinder/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth",
	fx.Provide(
		NewEmployeeRepository,
		func(r *EmployeeRepository) EmployeeStore { return r },
		NewTokenManager,
		NewService,
		NewHandler,
	),
	fx.Invoke(registerSignInLogging),
)

func registerSignInLogging(s *Service) {
	s.OnIdentityChange(func(identity Identity) {
		logger.L().Info("Employee signed in",
			zap.String("email", identity.Email),
			zap.String("access", identity.Access),
		)
	})
}
