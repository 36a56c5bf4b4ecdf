// Command exmdbd is the exmdb RPC daemon: it opens mailbox stores on
// demand under a data directory and serves the exmdb wire protocol over
// TCP, dispatching verbs through internal/rop's per-connection session
// layer.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gromox.run/internal/config"
	"gromox.run/internal/exrpc"
	"gromox.run/internal/metrics"
	"gromox.run/internal/rop"
)

func main() {
	flagConfig := flag.String("config", "/etc/gromox/exmdb_provider.cfg", "path to the exmdb_provider config file")
	flagMetricsAddr := flag.String("metrics_addr", ":9100", "address for the Prometheus /metrics endpoint; empty disables it")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "exmdbd").Logger()

	cfg, _, err := config.LoadDaemon(*flagConfig)
	if err != nil {
		log.Fatal().Err(err).Str("path", *flagConfig).Msg("loading config")
	}

	mgr := newManager(cfg)

	if *flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", *flagMetricsAddr).Msg("metrics listening")
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	srv := &exrpc.Server{
		Validator: validatorFunc(func(req exrpc.ConnectRequest) exrpc.ResponseCode {
			if req.Prefix == "" {
				return exrpc.RespMisconfigPrefix
			}
			return exrpc.RespSuccess
		}),
		DispatcherFactory: func(req exrpc.ConnectRequest) (exrpc.Dispatcher, error) {
			st, err := mgr.open(req.Prefix, req.Private)
			if err != nil {
				log.Error().Err(err).Str("prefix", req.Prefix).Msg("opening store")
				return nil, err
			}
			metrics.OpenMailboxes.Set(float64(mgr.count()))
			sess := rop.NewSession(st, 0, 0)
			return metrics.Instrument(rop.NewDispatcher(sess)), nil
		},
		OnNotificationChannel: func(remoteID string, c net.Conn) {
			metrics.ActiveConnections.Inc()
			defer metrics.ActiveConnections.Dec()
			bridgeNotifications(log, remoteID, mgr.all(), c)
		},
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort))
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("exmdbd listening")

	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Error().Err(err).Msg("serve stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
	srv.Shutdown()
}

type validatorFunc func(exrpc.ConnectRequest) exrpc.ResponseCode

func (f validatorFunc) Validate(req exrpc.ConnectRequest) exrpc.ResponseCode { return f(req) }
