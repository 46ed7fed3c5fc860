package main

import (
	"context"
	"time"

	"OpportunityFinder/internal/bootstrap"
	"OpportunityFinder/internal/config"
	"OpportunityFinder/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Create the MongoDB indexes and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		bootstrap.Loadenv(envFile)
		cfg, err := config.LoadValidated()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		client, err := config.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Client.Disconnect(context.Background()); err != nil {
				logger.L().Warn("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}()

		if err := config.EnsureIndexes(ctx, client.Database); err != nil {
			return err
		}
		logger.L().Info("Indexes are in place", zap.String("database", cfg.MongoDatabase))
		return nil
	},
}
