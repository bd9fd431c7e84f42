// Command lambda runs the search endpoint as an AWS Lambda function behind an
// API Gateway proxy integration.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/logger"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/app"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/config"
	lambdahandler "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/handler/lambda"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.NewForEnvironment("search-lambda", cfg.LogLevel, cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	components, err := app.Build(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("failed to initialize search", slog.String("error", err.Error()))
		os.Exit(1)
	}

	h := lambdahandler.NewHandler(components.Service, app.Session(cfg), log)
	lambda.Start(h.Handle)
}
