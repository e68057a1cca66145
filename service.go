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

package phimask

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long in-flight requests may run after
// the service is asked to stop.
const DefaultShutdownTimeout = 30 * time.Second

// RunAsService serves the API on config.ApiUrl until ctx is cancelled.
// readyC, when non-nil, is closed once the listener is bound.
func RunAsService(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) error {
	zl = zl.Named("phimask")
	config = config.WithDefaults()

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		return fmt.Errorf("invalid API URL %q: %w", config.ApiUrl, err)
	}

	node, err := NewNode(zl, config)
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.Host, err)
	}
	zl.Info("Serving phimask API",
		zap.Stringer("addr", ln.Addr()),
		zap.String("tokenizer", config.Tokenizer),
		zap.Bool("recognizer", node.model != nil))

	srv := &http.Server{
		Handler:           node.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second,
	}
	if readyC != nil {
		close(readyC)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Warn("Graceful shutdown timed out, closing connections",
				zap.Error(err), zap.Duration("timeout", DefaultShutdownTimeout))
			_ = srv.Close()
		}
		return nil
	})

	err = g.Wait()
	zl.Info("phimask API stopped")
	return err
}
