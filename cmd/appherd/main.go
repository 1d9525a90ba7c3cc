// Copyright 2025 Appherd Authors
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

// Command appherd supervises a set of external applications: it launches
// those configured with an executable path, keeps their observed state fresh
// through the polling scheduler and exposes metrics plus a JSON status dump
// over HTTP. SIGINT or SIGTERM shuts everything down in order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appherd/appherd/pkg/config"
	"github.com/appherd/appherd/pkg/driver/exec"
	"github.com/appherd/appherd/pkg/logger"
	"github.com/appherd/appherd/pkg/metrics"
	"github.com/appherd/appherd/pkg/resource"
	"github.com/appherd/appherd/pkg/scanner"
	"github.com/appherd/appherd/pkg/scheduler"
)

// launchLimit caps concurrent startup launches.
const launchLimit = 4

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.InitializeWith("", logger.FormatConsole)
			logger.For(logger.ComponentCore).Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	logger.InitializeWith(cfg.Logging.Level, logger.LogFormat(strings.ToUpper(cfg.Logging.Format)))
	log := logger.For(logger.ComponentCore)
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg); err != nil {
		log.Errorf("appherd exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logger.For(logger.ComponentCore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scan := scanner.New(cfg.Scanner.TTL.AsDuration(), nil)

	sched := scheduler.New(scheduler.Config{
		PoolLimit:           cfg.Scheduler.PoolLimit,
		PollInterval:        cfg.Scheduler.PollInterval.AsDuration(),
		UpdateTimeout:       cfg.Scheduler.UpdateTimeout.AsDuration(),
		StarvationThreshold: cfg.Scheduler.StarvationThreshold.AsDuration(),
	}, scan)
	defer sched.Close()

	var server *http.Server
	if cfg.Metrics.Enabled {
		server = metrics.SetupMetricsEndpoint(cfg.Metrics.Address)
		log.Infof("Metrics endpoint listening on %s", cfg.Metrics.Address)
	}

	resources, err := buildResources(cfg, scan, sched)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(launchLimit)

	for _, entry := range resources {
		if entry.launchPath == "" {
			continue
		}

		g.Go(func() error {
			res := entry.res.RunProcess(gctx, entry.launchPath)
			if res.HasMessage() {
				log.Infof("Launch of %s: %s", entry.res.ID(), res.Message)
			} else {
				log.Infof("Launched %s", entry.res.ID())
			}

			// A failed launch is logged, not fatal; the scheduler keeps
			// watching for a manually started instance.
			return nil
		})
	}

	_ = g.Wait()

	log.Infof("Supervising %d resources", sched.Len())

	<-ctx.Done()
	log.Info("Shutdown signal received")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Metrics endpoint shutdown: %v", err)
		}
	}

	return nil
}

type managedResource struct {
	res        *resource.Resource[string]
	launchPath string
}

// buildResources creates and registers one supervised resource per config
// entry, all driven by the liveness exec driver.
func buildResources(cfg config.Config, scan *scanner.Scanner, sched *scheduler.Scheduler) ([]managedResource, error) {
	resources := make([]managedResource, 0, len(cfg.Resources))

	for _, rc := range cfg.Resources {
		res, err := resource.New(resource.Config[string]{
			Name:             rc.Name,
			ProcessName:      rc.ProcessName,
			OperationTimeout: rc.OperationTimeout.AsDuration(),
			Capabilities: resource.Capabilities{
				Characters:     rc.Characters,
				AllowBlankSave: rc.AllowBlankSave,
			},
		}, exec.New(), scan)
		if err != nil {
			return nil, err
		}

		if !sched.Register(res) {
			return nil, fmt.Errorf("resource %s is already registered", rc.Name)
		}

		resources = append(resources, managedResource{res: res, launchPath: rc.ExecutablePath})
	}

	return resources, nil
}
