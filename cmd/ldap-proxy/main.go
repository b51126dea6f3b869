// Package main provides the entry point for ldap-proxy. It parses CLI
// flags/environment, loads and validates the TOML configuration, builds the
// shared application state, and runs the acceptor until a termination
// signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanidm/ldap-proxy/internal/acceptor"
	"github.com/kanidm/ldap-proxy/internal/appstate"
	"github.com/kanidm/ldap-proxy/internal/config"
	"github.com/kanidm/ldap-proxy/internal/proxylog"
	"github.com/kanidm/ldap-proxy/internal/proxymetrics"
)

func main() {
	cli, err := config.ParseCLI(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "cli error: %v\n", err)
		os.Exit(2)
	}

	log := proxylog.New(cli.Debug)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("config error")
		os.Exit(2)
	}

	serverTLS, err := config.ServerTLSConfig(cfg.TLSChain, cfg.TLSKey)
	if err != nil {
		log.Error().Err(err).Msg("unable to load server TLS material")
		os.Exit(2)
	}

	upstreamTLS, err := config.ClientTLSConfig(cfg.LdapCA, cfg.UpstreamHost)
	if err != nil {
		log.Error().Err(err).Msg("unable to load upstream CA")
		os.Exit(2)
	}

	reg := prometheus.NewRegistry()
	metrics := proxymetrics.New(reg)

	app := appstate.New(cfg, upstreamTLS, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ignoreCh := make(chan os.Signal, 4)
	signal.Notify(ignoreCh, syscall.SIGHUP, syscall.SIGALRM, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		for sig := range ignoreCh {
			log.Debug().Str("signal", sig.String()).Msg("ignoring signal")
		}
	}()

	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: "127.0.0.1:9090", Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		metricsServer.Close()
	}()

	log.Info().Str("bind", cfg.Bind).Strs("upstream", cfg.UpstreamAddrs).Msg("ldap-proxy starting")

	a := acceptor.New(app, serverTLS, log)
	if err := a.Serve(ctx, cfg.Bind); err != nil {
		log.Error().Err(err).Msg("acceptor stopped with error")
		os.Exit(1)
	}
}
