// Copyright (c) 2017 OysterPack, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// fabricd is the example entrypoint wiring a Manager, a single
// "counter" Service, and a Prometheus exposition endpoint together,
// playing the role cmd/demos/appdemo's main.go plays for the original
// App - except here the long-running process hosts Services instead of
// capnp RPC-backed Clients.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/manager"
	"github.com/oysterpack/fabric/packet"
	"github.com/oysterpack/fabric/poller"
	"github.com/oysterpack/fabric/service"
	"github.com/oysterpack/fabric/variant"
)

const counterOpcode = 1

func main() {
	listenAddr := flag.String("listen-addr", ":9100", "counter service listen address")
	metricsAddr := flag.String("metrics-addr", ":9101", "prometheus exposition address")
	fps := flag.Int("fps", config.DefaultFps, "service tick rate")
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	reg := prometheus.NewRegistry()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info().Str("addr", *metricsAddr).Msg("serving prometheus metrics")
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	mgr := manager.New(func(cfg config.ServiceConfig) (poller.Poller, error) {
		connGauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fabric",
			Subsystem:   "poller",
			Name:        "connections",
			ConstLabels: prometheus.Labels{"service": cfg.Name},
		})
		acceptTotal := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fabric",
			Subsystem:   "poller",
			Name:        "accepted_total",
			ConstLabels: prometheus.Labels{"service": cfg.Name},
		})
		reg.MustRegister(connGauge, acceptTotal)
		return poller.NewTCPPoller(1024, 0, connGauge, acceptTotal), nil
	}, reg, logger)

	svc, err := mgr.Create(config.ServiceConfig{
		Name:       "counter",
		Fps:        *fps,
		ListenAddr: *listenAddr,
	}, func(svc *service.Service) error {
		if err := svc.RegisterComponent(&counter{}); err != nil {
			return err
		}
		return svc.RegisterHandler(counterOpcode, handleCounterNext)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create counter service")
	}
	logger.Info().Str("id", string(svc.Id())).Str("addr", *listenAddr).Msg("counter service listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	if err := mgr.StopAll(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// handleCounterNext looks up the counter Component and invokes its
// "next" method, replying with the new value encoded as a Variant -
// the same component.Registry.CallMethod path a remote peer's packet
// dispatch takes, just invoked directly since this handler already has
// ctx.Registry in hand.
func handleCounterNext(ctx *component.Context, p *packet.Packet) (*packet.Packet, service.DispatchResult, error) {
	result, err := ctx.Registry.CallMethod(ctx, "counter", "next", variant.NullValue)
	if err != nil {
		return nil, service.Handled, err
	}
	payload, err := variant.Marshal(result)
	if err != nil {
		return nil, service.Handled, err
	}
	if !p.Flags.Has(packet.ExpectReply) {
		return nil, service.Handled, nil
	}
	return p.Reply(0, payload), service.Handled, nil
}
