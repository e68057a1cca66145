// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/phimask"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the phimask API server",
	Long: `Start the HTTP API for alignment (/api/align, /api/decode), de-identification
(/api/deidentify) and, with a model, recognition (/api/recognize).

Alignment needs --tokenizer; recognition needs --model-dir.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("api-url", phimask.DefaultApiUrl, "address the API listens on")
	serveCmd.Flags().Int("health-port", 4200, "health/metrics server port")
	serveCmd.Flags().Uint64("seed", 0, "surrogate seed for requests without one (0 draws a random seed)")
	serveCmd.Flags().Int("workers", 0, "tokenizer instances and tagger pool size")
	serveCmd.Flags().Int("max-concurrent-requests", 0, "requests processed at once (default number of CPUs)")
	serveCmd.Flags().Int("max-queue-size", 0, "requests allowed to wait (default 4x max-concurrent-requests)")
	serveCmd.Flags().String("request-timeout", "", "maximum time a request waits in queue, e.g. 30s")
	serveCmd.Flags().String("cache-ttl", "", "alignment cache TTL (default 2m)")
	addTokenizerFlags(serveCmd)
	addModelFlags(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := configFromViper()
	if err != nil {
		return err
	}

	// Track readiness state
	ready := &atomic.Bool{}
	readyC := make(chan struct{})

	// Start health server with readiness checker
	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	go func() {
		select {
		case <-readyC:
			ready.Store(true)
			logger.Info("phimask is ready")
		case <-ctx.Done():
		}
	}()

	return phimask.RunAsService(ctx, logger, cfg, readyC)
}
