// Command bgpconnd is a demonstration daemon wiring internal/config into an
// engine.Engine running the fsmiface/refimpl reference FSM. It exists so
// the connection core's full stack (config → engine → sessions →
// connections) is exercised by a runnable binary, the way every repository
// in the reference corpus ships one even when the interesting code lives in
// a library package.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bgpfix/bgpconn/engine"
	"github.com/bgpfix/bgpconn/fsmiface/refimpl"
	"github.com/bgpfix/bgpconn/internal/config"
	"github.com/bgpfix/bgpconn/internal/metrics"
	"github.com/bgpfix/bgpconn/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config document (optional; defaults used if empty)")
		metricsAddr = flag.String("metrics-addr", ":9179", "address to serve /metrics and /status on")
		debug = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := log.Logger
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("reading config")
		}
		cfg, err = config.Load(data)
		if err != nil {
			logger.Fatal().Err(err).Msg("parsing config")
		}
	}

	reg := prometheus.NewRegistry()
	mcs := metrics.New(reg)

	fsm := refimpl.New(&logger, mcs)
	eng, err := engine.New(fsm, engine.WithLogger(&logger), engine.WithMetrics(mcs))
	if err != nil {
		logger.Fatal().Err(err).Msg("constructing engine")
	}

	for _, peer := range cfg.Peers {
		sess := eng.NewSession(peer.Host)
		sess.Mu.Lock()
		sess.HoldTimerInterval = peer.HoldTimerInterval
		sess.KeepaliveTimerInterval = peer.KeepaliveTimerInterval
		sess.Mu.Unlock()
		logger.Info().Str("host", peer.Host).Str("addr", peer.Addr).Msg("configured peer")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(eng.DumpStatusJSON())
	})
	httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Msg("bgpconnd starting")
	if err := eng.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("engine stopped")
	}
	_ = httpSrv.Close()
	logger.Info().Msg("bgpconnd stopped")
}

// dialPeer is a small helper kept for illustration of how a control-engine
// caller would open an outbound connection against a configured peer; it is
// not wired into the startup path above because socket establishment is
// explicitly out of the connection core's scope (spec.md §1) and the demo
// binary does not implement a control engine of its own.
func dialPeer(ctx context.Context, eng *engine.Engine, sess *session.Session, addr string) error {
	sock, err := engine.DialTCP(ctx, addr)
	if err != nil {
		return err
	}
	c, err := eng.NewConnection(sess, session.Primary)
	if err != nil {
		_ = sock.Close()
		return err
	}
	return c.Open(sock)
}
