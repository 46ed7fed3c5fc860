package bootstrap

import (
	"OpportunityFinder/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Loadenv reads .env files into the process environment. Variables already set win.
func Loadenv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.L().Info("No .env file found, using system environment variables", zap.Strings("files", files))
	}
}
