package main

import (
	"OpportunityFinder/internal/bootstrap"
	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/logger"
	pkg "OpportunityFinder/pkg/routes"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		bootstrap.Loadenv(envFile)

		cfg, err := config.LoadValidated()
		if err != nil {
			return err
		}
		if err := logger.InitializeLogger(cfg.IsDevelopment()); err != nil {
			return err
		}
		defer logger.Sync()
		logger.L().Info("Starting OpportunityFinder", zap.String("env", cfg.AppEnv), zap.String("port", cfg.Port))

		app := fx.New(
			pkg.AppModules,
			fx.Replace(cfg),
			fx.WithLogger(func() fxevent.Logger {
				return &fxevent.ZapLogger{Logger: logger.L()}
			}),
		)
		app.Run()
		return app.Err()
	},
}
