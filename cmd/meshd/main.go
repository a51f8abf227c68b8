// Command meshd is the mesh protocol engine's host/simulator binary
// (SPEC_FULL §0): it wires internal/config, internal/store,
// internal/netsim (no real LoRa hardware driver exists or is planned,
// DESIGN.md, so the "radio" every node here talks over is always
// the in-process simulated medium), internal/engine, internal/console,
// and internal/metrics into one running process, grounded on
// R2Northstar-Atlas/cmd/atlas/main.go's flag/env/signal wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/IceNet-01/LNK-22-sub000/internal/config"
	"github.com/IceNet-01/LNK-22-sub000/internal/console"
	"github.com/IceNet-01/LNK-22-sub000/internal/engine"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/metrics"
	"github.com/IceNet-01/LNK-22-sub000/internal/netsim"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
)

var opt struct {
	Help        bool
	DumpConfig  bool
	MetricsAddr string
	SimPeers    int
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "show this help text")
	pflag.BoolVar(&opt.DumpConfig, "dump-config", false, "print the loaded configuration and exit")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "override MESH_METRICS_ADDR")
	pflag.IntVar(&opt.SimPeers, "sim-peers", 2, "number of simulated neighbor nodes to run alongside this one")
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(0)
	}

	cfg, err := config.Load(os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if opt.MetricsAddr != "" {
		cfg.MetricsAddr = opt.MetricsAddr
	}

	log := zerolog.New(os.Stderr).Level(cfg.ZerologLevel()).With().Timestamp().Logger()

	if opt.DumpConfig {
		fmt.Printf("%+v\n", cfg)
		return
	}

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("meshd exiting")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	kv, err := store.NewFile(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.NodeName != "" {
		if err := kv.Store(store.KeyNodeName, []byte(cfg.NodeName)); err != nil {
			return fmt.Errorf("persist node name: %w", err)
		}
	}

	net := netsim.New(cfg.SimSeed, time.Now())
	net.SetLogger(log)

	self := meshproto.Address(cfg.NodeAddress)
	opts := []netsim.NodeOption{netsim.WithKV(kv), netsim.WithEncrypt(cfg.Encrypt)}
	if id, ok, err := cfg.NetworkIDOverride(); err != nil {
		return fmt.Errorf("parse network ID override: %w", err)
	} else if ok {
		opts = append(opts, netsim.WithNetworkID(id))
	}

	node, err := net.AddNode(cfg.NodeAddress, opts...)
	if err != nil {
		return fmt.Errorf("add self node %d: %w", self, err)
	}

	for i := 0; i < opt.SimPeers; i++ {
		peerAddr := cfg.NodeAddress + uint32(i) + 1
		peer, err := net.AddNode(peerAddr)
		if err != nil {
			return fmt.Errorf("add simulated peer %d: %w", peerAddr, err)
		}
		net.Link(cfg.NodeAddress, peerAddr, netsim.GoodLink())
		log.Info().Uint32("peer", peerAddr).Msg("simulated neighbor joined")
		_ = peer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(statusAdapter{node.Engine}, time.Now)
		reg := prometheus.NewRegistry()
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("register metrics collector: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving /metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.ConsoleStdin {
		c := console.New(node.Engine, os.Stdin, os.Stdout, log)
		go func() {
			if err := c.Run(); err != nil {
				log.Warn().Err(err).Msg("console closed")
			}
		}()
	}

	log.Info().Uint32("self", cfg.NodeAddress).Str("store", cfg.StorePath).Msg("meshd started")

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("meshd shutting down")
			return node.Engine.Shutdown()
		case <-ticker.C:
			net.Advance(cfg.TickInterval)
		}
	}
}

// statusAdapter narrows *engine.Engine down to metrics.StatusSource:
// the two Status types are intentionally decoupled (internal/metrics
// has no import on internal/engine), so bridging them is this package's
// job, not either package's.
type statusAdapter struct {
	e *engine.Engine
}

func (s statusAdapter) StatusSync(now time.Time) metrics.Status {
	st := s.e.StatusSync(now)
	return metrics.Status{
		Uptime:          st.Uptime,
		EncryptEnabled:  st.EncryptEnabled,
		MACMode:         st.MACMode,
		TimeStratum:     st.TimeStratum,
		TimeSynced:      st.TimeSynced,
		NeighborCount:   st.NeighborCount,
		RouteCount:      st.RouteCount,
		PendingAcks:     st.PendingAcks,
		PartitionEvents: st.PartitionEvents,
		NonceExhausted:  st.NonceExhausted,
	}
}
