// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wso2/api-platform/gateway/jms-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/jms-bridge/internal/writer"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/config"
)

func main() {
	boot := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, config.RoleWriter)
	if err != nil {
		boot.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logger, os.Stdout)
	if err != nil {
		boot.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	app, err := writer.New(cfg, broker.DefaultRegistry(logger), logger)
	if err != nil {
		logger.Error("failed to build jms writer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start jms writer", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down jms writer")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
