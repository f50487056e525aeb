// Copyright 2016 SMFS Inc DBA GRIMM. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"
	"github.com/lamassuiot/dcc-revocation/pkg/depot/file"
	"github.com/lamassuiot/dcc-revocation/pkg/depot/memory"
	"github.com/lamassuiot/dcc-revocation/pkg/depot/redis"
	"github.com/lamassuiot/dcc-revocation/pkg/depot/relational"
	"github.com/lamassuiot/dcc-revocation/pkg/discovery"
	"github.com/lamassuiot/dcc-revocation/pkg/discovery/consul"
	"github.com/lamassuiot/dcc-revocation/pkg/resource"
	"github.com/lamassuiot/dcc-revocation/pkg/revocation"
	"github.com/lamassuiot/dcc-revocation/pkg/secrets/trust"
	trustfile "github.com/lamassuiot/dcc-revocation/pkg/secrets/trust/file"
	"github.com/lamassuiot/dcc-revocation/pkg/secrets/trust/vault"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

func main() {
	var (
		flServerURL   = flag.String("server", envString("REVOCATION_SERVER_URL", ""), "revocation list server base URL")
		flTimeout     = flag.Duration("timeout", envDuration("REVOCATION_TIMEOUT", 30*time.Second), "timeout of a single download")
		flConcurrency = flag.Int("concurrency", envInt("REVOCATION_CONCURRENCY", 8), "certificates evaluated at once")
		flBreakerFail = flag.Int("breakerfailures", envInt("REVOCATION_BREAKER_FAILURES", 5), "consecutive failures that open the circuit breaker, 0 disables it")
		flBreakerWait = flag.Duration("breakertimeout", envDuration("REVOCATION_BREAKER_TIMEOUT", 30*time.Second), "time the circuit breaker stays open")

		flTrustFile  = flag.String("trustanchors", envString("REVOCATION_TRUST_ANCHORS", ""), "PEM file with the payload signer certificates or keys")
		flSkipVerify = flag.Bool("insecureskipverify", envBool("REVOCATION_INSECURE_SKIP_VERIFY"), "accept unsigned payloads, only for trusted local mirrors")

		flVaultRoleId   = flag.String("vaultRoleId", envString("REVOCATION_VAULT_ROLEID", ""), "Vault role ID")
		flVaultSecretId = flag.String("vaultSecretId", envString("REVOCATION_VAULT_SECRETID", ""), "Vault secret ID")
		flVaultCa       = flag.String("vaultCa", envString("REVOCATION_VAULT_CA", ""), "Vault CA file")
		flVaultAddress  = flag.String("vaultAddress", envString("REVOCATION_VAULT_ADDRESS", ""), "Vault ADDRESS")
		flVaultPath     = flag.String("vaultPath", envString("REVOCATION_VAULT_PATH", "secret/data/dcc-revocation"), "Vault path of the trust anchors")

		flDepot     = flag.String("depot", envString("REVOCATION_DEPOT", "file"), "snapshot depot: file, postgres, redis or memory")
		flDepotFile = flag.String("depotfile", envString("REVOCATION_DEPOT_FILE", "revoked.txt"), "snapshot file of the file depot")
		flDepotDSN  = flag.String("depotdsn", envString("REVOCATION_DEPOT_DSN", ""), "postgres DSN or redis URL")

		flConsulProtocol = flag.String("consulprotocol", envString("REVOCATION_CONSUL_PROTOCOL", "http"), "Consul protocol")
		flConsulHost     = flag.String("consulhost", envString("REVOCATION_CONSUL_HOST", ""), "Consul host")
		flConsulPort     = flag.String("consulport", envString("REVOCATION_CONSUL_PORT", "8500"), "Consul port")
		flConsulCA       = flag.String("consulca", envString("REVOCATION_CONSUL_CA", ""), "Consul CA path")
		flAdvHost        = flag.String("advhost", envString("REVOCATION_ADVERTISE_HOST", "dcc-revocation"), "host advertised to Consul")
		flAddress        = flag.String("bind", envString("REVOCATION_ADDRESS", ""), "bind address")
		flPort           = flag.String("port", envString("REVOCATION_PORT", "8085"), "listening port")
		flSslCert        = flag.String("sslcert", envString("REVOCATION_SSL_CERT", ""), "TLS certificate, enables HTTPS together with sslkey")
		flSslKey         = flag.String("sslkey", envString("REVOCATION_SSL_KEY", ""), "TLS key")
		flDebug          = flag.Bool("debug", envBool("REVOCATION_DEBUG"), "enable debug logging")
	)
	flag.Parse()

	var logger log.Logger
	{
		logger = log.NewJSONLogger(os.Stdout)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		if *flDebug {
			logger = level.NewFilter(logger, level.AllowDebug())
		} else {
			logger = level.NewFilter(logger, level.AllowInfo())
		}
	}

	if *flServerURL == "" {
		level.Error(logger).Log("msg", "Revocation list server URL is required")
		os.Exit(1)
	}

	jcfg, err := jaegercfg.FromEnv()
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not load Jaeger configuration values from environment")
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "Jaeger configuration values loaded")
	tracer, closer, err := jcfg.NewTracer()
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not start Jaeger tracer")
		os.Exit(1)
	}
	defer closer.Close()
	level.Info(logger).Log("msg", "Jaeger tracer started")

	var verifier resource.Verifier
	if *flSkipVerify {
		level.Warn(logger).Log("msg", "Payload signature verification disabled")
		verifier = resource.NopVerifier{}
	} else {
		var trustSecrets trust.Secrets
		if *flVaultAddress != "" {
			trustSecrets, err = vault.NewVaultSecrets(*flVaultAddress, *flVaultRoleId, *flVaultSecretId, *flVaultCa, *flVaultPath, logger)
			if err != nil {
				level.Error(logger).Log("err", err, "msg", "Could not create vault secret")
				os.Exit(1)
			}
		} else {
			trustSecrets = trustfile.NewFile(*flTrustFile, logger)
		}
		anchors, err := trustSecrets.GetTrustAnchors()
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not load trust anchors")
			os.Exit(1)
		}
		verifier = resource.NewCOSEVerifier(anchors...)
	}

	transportOpts := []resource.HTTPOption{resource.WithHTTPClient(&http.Client{Timeout: *flTimeout})}
	if *flBreakerFail > 0 {
		transportOpts = append(transportOpts, resource.WithBreaker(uint32(*flBreakerFail), *flBreakerWait))
	}
	transport, err := resource.NewHTTPTransport(*flServerURL, log.With(logger, "component", "transport"), transportOpts...)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create revocation list transport")
		os.Exit(1)
	}

	var fetcher resource.Fetcher
	{
		fetcher = resource.NewClient(transport, verifier, logger)
		fetcher = resource.NewInstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "dcc_revocation",
				Subsystem: "fetcher",
				Name:      "fetch_count",
				Help:      "Number of revocation resources downloaded.",
			}, []string{"kind", "error"}),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "dcc_revocation",
				Subsystem: "fetcher",
				Name:      "fetch_latency_seconds",
				Help:      "Total duration of downloads in seconds.",
			}, []string{"kind", "error"}),
		)(fetcher)
	}

	snapshotDepot, err := newDepot(*flDepot, *flDepotFile, *flDepotDSN, logger)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not start revocation snapshot depot")
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "Revocation snapshot depot started", "depot", *flDepot)

	fieldKeys := []string{"method", "error"}
	var svc revocation.Service
	{
		svc, err = revocation.NewService(context.Background(), fetcher, snapshotDepot,
			revocation.WithLogger(log.With(logger, "component", "revocation")),
			revocation.WithConcurrency(*flConcurrency),
		)
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not start revocation service")
			os.Exit(1)
		}
		svc = revocation.LoggingMiddleware(logger)(svc)
		svc = revocation.NewInstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "dcc_revocation",
				Subsystem: "service",
				Name:      "request_count",
				Help:      "Number of requests received.",
			}, fieldKeys),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "dcc_revocation",
				Subsystem: "service",
				Name:      "request_latency_seconds",
				Help:      "Total duration of requests in seconds.",
			}, fieldKeys),
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "dcc_revocation",
				Subsystem: "service",
				Name:      "revoked_certificates_total",
				Help:      "Number of certificates found revoked by updates.",
			}, []string{}),
		)(svc)
	}

	mux := http.NewServeMux()
	mux.Handle("/", revocation.MakeHTTPHandler(svc, log.With(logger, "component", "HTTP"), tracer))
	mux.Handle("/metrics", promhttp.Handler())

	var sd discovery.Service
	if *flConsulHost != "" {
		sd, err = consul.NewServiceDiscovery(*flConsulProtocol, *flConsulHost, *flConsulPort, *flConsulCA, logger)
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not start connection with Consul Service Discovery")
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "Connection established with Consul Service Discovery")
	}

	errs := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	useTLS := *flSslCert != "" && *flSslKey != ""
	go func() {
		addr := *flAddress + ":" + *flPort
		protocol := "http"
		if useTLS {
			protocol = "https"
		}
		level.Info(logger).Log("transport", protocol, "address", addr, "msg", "listening")
		if sd != nil {
			if err := sd.Register(protocol, *flAdvHost, *flPort); err != nil {
				level.Error(logger).Log("err", err, "msg", "Could not register in Consul")
			}
		}
		if useTLS {
			errs <- http.ListenAndServeTLS(addr, *flSslCert, *flSslKey, mux)
		} else {
			errs <- http.ListenAndServe(addr, mux)
		}
	}()
	level.Info(logger).Log("exit", <-errs)
	if sd != nil {
		sd.Deregister()
	}
}

func newDepot(kind, path, dsn string, logger log.Logger) (depot.Depot, error) {
	logger = log.With(logger, "component", "depot")
	switch kind {
	case "file":
		return file.NewFile(path, logger), nil
	case "postgres":
		return relational.NewDB("postgres", dsn, logger)
	case "redis":
		return redis.NewRedis(dsn, logger)
	case "memory":
		return memory.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown depot %q", kind)
	}
}

func envString(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}

func envBool(key string) bool {
	if env := os.Getenv(key); env == "true" {
		return true
	}
	return false
}

// envInt keeps def when the variable is unset or not a number.
func envInt(key string, def int) int {
	if env := os.Getenv(key); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "ignoring %s=%q: not an integer, using %d\n", key, env, def)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	return def
}
