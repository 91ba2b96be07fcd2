package main

import (
	"context"
	"os"

	"github.com/sportball/sidecar/internal/cli"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

func main() {
	logger.Init("", "info", 0, 0, 0, true)
	if err := cli.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("exec cli failed", zap.Error(err))
		os.Exit(1)
	}
}
