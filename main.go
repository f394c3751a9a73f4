package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordishs/btc-rpc-proxy/config"
	"github.com/ordishs/btc-rpc-proxy/fetcher"
	"github.com/ordishs/btc-rpc-proxy/httpserver"
	"github.com/ordishs/btc-rpc-proxy/peerpool"
	"github.com/ordishs/btc-rpc-proxy/rpcserver"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/ordishs/btc-rpc-proxy/upstream"
)

// progname is used by gocore to tag stats and the settings socket.
const progname = "btc-rpc-proxy"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)

	// starts the Unix domain socket that allows runtime settings inspection
	gocore.Log(progname)

	gocore.AddAppPayloadFn("CONFIG", func() interface{} {
		return gocore.Config().GetAll()
	})
}

func main() {
	cfg := config.Load()
	log := ulogger.New(progname, cfg.PrettyLogs, cfg.LogLevel)

	stats := gocore.Config().Stats()
	log.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	chainParams, err := chainParamsForNetwork(cfg.Network)
	if err != nil {
		log.Fatalf("%v", err)
	}

	upstreamClient := upstream.New(cfg.UpstreamURI)
	pool := peerpool.New(upstreamClient, ulogger.New("peers", cfg.PrettyLogs, cfg.LogLevel), cfg.MaxPeerAge)

	torCfg := fetcher.TorConfig{Proxy: cfg.Tor.Proxy, Only: cfg.Tor.Only}
	blockFetcher := fetcher.New(chainParams, cfg.PeerTimeout, cfg.MaxPeerConcurrency, torCfg, ulogger.New("fetcher", cfg.PrettyLogs, cfg.LogLevel))

	router := rpcserver.New(upstreamClient, pool, blockFetcher, chainParams, ulogger.New("rpc", cfg.PrettyLogs, cfg.LogLevel))
	server := httpserver.New(cfg.Bind, router, ulogger.New("http", cfg.PrettyLogs, cfg.LogLevel))

	metricsServer := newMetricsServer(cfg.MetricsBind)

	go func() {
		log.Infof("metrics listening on http://%s/metrics", cfg.MetricsBind)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s, forwarding to %s", cfg.Bind, cfg.UpstreamURI)
		serveErr <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error shutting down server: %v", err)
	}

	_ = metricsServer.Shutdown(shutdownCtx)
	pool.Close()
}

func newMetricsServer(bind string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func chainParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
