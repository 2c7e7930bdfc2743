// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command fciendpoint runs the FCI fast control interface endpoint: it
// loads configuration, brings up the dispatch core against a transport
// and driver backend, and serves inbound client requests until signaled
// to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fci.dev/endpoint/internal/config"
	"fci.dev/endpoint/internal/core"
	"fci.dev/endpoint/internal/driver"
	"fci.dev/endpoint/internal/logging"
	"fci.dev/endpoint/internal/transport"
	"fci.dev/endpoint/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (defaults built in if omitted)")
	metricsAddr := flag.String("metrics-addr", ":9110", "address to serve Prometheus metrics on")
	flag.Parse()

	log := logging.New(logging.DefaultConfig()).WithComponent("main")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	fakeDriver := driver.NewFake(log)

	tr, err := transport.NewUnixDgram(cfg.UnixSocketPath)
	if err != nil {
		log.Error("failed to bind transport socket", "path", cfg.UnixSocketPath, "error", err)
		os.Exit(1)
	}
	defer tr.Close()

	endpoint := core.New(cfg, core.Deps{
		Log:        log,
		Transport:  tr,
		Routing:    fakeDriver,
		Classifier: fakeDriver,
		Bridge:     fakeDriver,
	})
	if err := endpoint.Init(); err != nil {
		log.Error("failed to initialize endpoint", "error", err)
		os.Exit(1)
	}
	defer endpoint.Close()

	reg := prometheus.NewRegistry()
	endpoint.MustRegisterMetrics(reg)
	go serveMetrics(log, *metricsAddr, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go runReceiveLoop(log, tr, endpoint, done)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case <-done:
		log.Warn("receive loop exited unexpectedly")
	}
}

func serveMetrics(log *logging.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

func runReceiveLoop(log *logging.Logger, tr *transport.UnixDgram, endpoint *core.Endpoint, done chan<- struct{}) {
	defer close(done)
	for {
		senderID, buf, err := tr.Recv()
		if err != nil {
			log.Error("transport receive failed", "error", err)
			return
		}
		rec, err := wire.Decode(buf)
		if err != nil {
			log.Warn("dropping malformed record", "error", err)
			continue
		}
		reply, err := endpoint.Dispatch(rec)
		if err != nil {
			log.Warn("dispatch returned an error", "error", err)
		}
		out := wire.Encode(reply)
		if err := tr.Send(senderID, out); err != nil {
			log.Warn("reply send failed", "dest", senderID, "error", err)
		}
	}
}
