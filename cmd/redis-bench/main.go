// Command redis-bench drives concurrent load against a Redis node and
// reports throughput, mirroring the role the original project's
// benchmark scripts play outside the client library itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nearmute/redis"
)

// config holds flag defaults that may be overridden by environment
// variables, e.g. REDIS_BENCH_HOST=10.0.0.1.
type config struct {
	Host        string `env:"REDIS_BENCH_HOST"`
	Port        int    `env:"REDIS_BENCH_PORT"`
	UnixSocket  string `env:"REDIS_BENCH_UNIX_SOCKET"`
	Password    string `env:"REDIS_BENCH_PASSWORD"`
	Clients     int    `env:"REDIS_BENCH_CLIENTS"`
	Requests    int    `env:"REDIS_BENCH_REQUESTS"`
	BatchSize   int    `env:"REDIS_BENCH_BATCH_SIZE"`
	DataSize    int    `env:"REDIS_BENCH_DATA_SIZE"`
	Pipeline    bool   `env:"REDIS_BENCH_PIPELINE"`
	MetricsAddr string `env:"REDIS_BENCH_METRICS_ADDR"`
}

// addr resolves the node address to dial, preferring a Unix domain socket
// path over host:port when both are given.
func (c config) addr() string {
	if c.UnixSocket != "" {
		return c.UnixSocket
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	requestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "redis_bench_request_latency_seconds",
		Help:    "Latency of one command (or one pipeline batch) round trip.",
		Buckets: prometheus.DefBuckets,
	})
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_bench_clients_in_flight",
		Help: "Number of benchmark client goroutines currently issuing commands.",
	})
)

func main() {
	cfg := config{
		Host:      "localhost",
		Port:      6379,
		Clients:   50,
		Requests:  100_000,
		BatchSize: 1,
		DataSize:  64,
	}
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Redis node `hostname`; ignored when -unix is set.")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Redis node `port`; ignored when -unix is set.")
	flag.StringVar(&cfg.UnixSocket, "unix", cfg.UnixSocket, "Unix domain socket `path`; overrides -host/-port.")
	flag.StringVar(&cfg.Password, "password", cfg.Password, "AUTH `password`, if any.")
	flag.IntVar(&cfg.Clients, "clients", cfg.Clients, "Number of concurrent client goroutines.")
	flag.IntVar(&cfg.Requests, "requests", cfg.Requests, "Total number of SET requests across all clients; must be a multiple of -clients.")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Commands stacked per pipeline round trip; 1 disables pipelining.")
	flag.IntVar(&cfg.DataSize, "data-size", cfg.DataSize, "Size in bytes of the value written by each SET.")
	flag.BoolVar(&cfg.Pipeline, "pipeline", cfg.Pipeline, "Force pipelining even when batch is 1.")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Optional `address` to serve /metrics on, e.g. :9121.")
	flag.Parse()

	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parsing environment overrides")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if cfg.Clients <= 0 || cfg.Requests%cfg.Clients != 0 {
		log.Error().Int("requests", cfg.Requests).Int("clients", cfg.Clients).
			Msg("requests must be a positive multiple of clients")
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("benchmark run failed")
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("serving /metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func run(cfg config) error {
	addr := cfg.addr()
	log.Info().
		Str("addr", addr).
		Int("clients", cfg.Clients).
		Int("requests", cfg.Requests).
		Int("batch", cfg.BatchSize).
		Msg("starting benchmark")

	pool := redis.NewPool(addr, cfg.Clients, 0, 5*time.Second, time.Minute)
	defer pool.Destroy()
	if cfg.Password != "" {
		pool.SetPassword([]byte(cfg.Password))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Preconnect(ctx, cfg.Clients); err != nil {
		return fmt.Errorf("preconnect: %w", err)
	}

	value := make([]byte, cfg.DataSize)
	var completed int64
	var wg sync.WaitGroup

	perClient := cfg.Requests / cfg.Clients
	start := time.Now()

	for i := 0; i < cfg.Clients; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			inFlight.Inc()
			defer inFlight.Dec()

			lease, err := pool.ConnectedClient(context.Background())
			if err != nil {
				log.Error().Err(err).Int("worker", worker).Msg("checkout failed")
				return
			}
			defer lease.Release()

			runWorker(lease.Client(), worker, perClient, cfg.BatchSize, cfg.Pipeline, value, &completed)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := atomic.LoadInt64(&completed)
	fmt.Printf("%d requests in %s (%.0f req/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
	return nil
}

func runWorker(client *redis.Client, worker, requests, batch int, forcePipeline bool, value []byte, completed *int64) {
	key := fmt.Sprintf("bench:%d", worker)

	if batch <= 1 && forcePipeline {
		for i := 0; i < requests; i++ {
			p := redis.NewPipeline(client)
			p.StackCall(redis.Text("SET"), redis.Text(key), redis.Bytes(value))
			t0 := time.Now()
			if _, err := p.Execute(); err != nil {
				log.Error().Err(err).Msg("pipeline failed")
				return
			}
			requestLatency.Observe(time.Since(t0).Seconds())
			atomic.AddInt64(completed, 1)
		}
		return
	}

	if batch <= 1 {
		for i := 0; i < requests; i++ {
			t0 := time.Now()
			if _, err := client.Call(redis.Text("SET"), redis.Text(key), redis.Bytes(value)); err != nil {
				log.Error().Err(err).Msg("SET failed")
				return
			}
			requestLatency.Observe(time.Since(t0).Seconds())
			atomic.AddInt64(completed, 1)
		}
		return
	}

	for i := 0; i < requests; i += batch {
		n := batch
		if i+n > requests {
			n = requests - i
		}
		p := redis.NewPipeline(client)
		for j := 0; j < n; j++ {
			p.StackCall(redis.Text("SET"), redis.Text(key), redis.Bytes(value))
		}
		t0 := time.Now()
		if _, err := p.Execute(); err != nil {
			log.Error().Err(err).Msg("pipeline failed")
			return
		}
		requestLatency.Observe(time.Since(t0).Seconds())
		atomic.AddInt64(completed, int64(n))
	}
}
