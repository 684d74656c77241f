package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/nimbusfs/httpd/internal/cli"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cli.Execute(logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}
