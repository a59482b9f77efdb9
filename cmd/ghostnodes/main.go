package main

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/directory"
	"github.com/ghosttalk/swarmnode/pkg/dispatcher"
	"github.com/ghosttalk/swarmnode/pkg/logging"
	"github.com/ghosttalk/swarmnode/pkg/metrics"
	"github.com/ghosttalk/swarmnode/pkg/middleware"
	"github.com/ghosttalk/swarmnode/pkg/mtls"
	"github.com/ghosttalk/swarmnode/pkg/onion"
	"github.com/ghosttalk/swarmnode/pkg/swarm"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

type Server struct {
	config     *common.Config
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	router     *onion.Router
	swarmStore *swarm.Store
	peerClient *mtls.Client
	httpServer *http.Server
}

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *version {
		fmt.Printf("GhostNodes %s (built %s)\n", Version, BuildTime)
		return
	}

	config, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		Output: config.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	privateKey, err := loadPrivateKey(config.PrivateKeyFile, logger)
	if err != nil {
		logger.Fatal("failed to load private key", zap.Error(err))
	}

	server, err := newServer(config, logger, privateKey)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	server.WaitForShutdown(ctx)
}

func newServer(config *common.Config, logger *zap.Logger, privateKey ed25519.PrivateKey) (*Server, error) {
	storage, err := newStorageBackend(config)
	if err != nil {
		return nil, fmt.Errorf("storage backend: %w", err)
	}

	var peerClient *mtls.Client
	if config.MTLS.Enabled {
		peerClient, err = mtls.NewClient(&mtls.Config{
			CAFile:   config.MTLS.CAFile,
			CertFile: config.MTLS.CertFile,
			KeyFile:  config.MTLS.KeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("mtls client: %w", err)
		}
	}

	onionRouter := onion.NewRouter(privateKey)

	var peer swarm.PeerClient
	if peerClient != nil {
		peer = peerClient
	}
	swarmStore := swarm.NewStore(
		storage,
		peer,
		config.BootstrapNodes,
		config.Swarm.ReplicationFactor,
		config.Swarm.TTLDays,
	)

	directoryService := directory.NewService(privateKey)

	var rateLimiter *middleware.RateLimiter
	if config.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(
			config.RateLimit.RequestsPerSecond,
			config.RateLimit.Burst,
			config.RateLimit.IdleTimeout,
		)
	}

	var m *metrics.Metrics
	if config.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	var forwarder dispatcher.PacketForwarder
	if peerClient != nil {
		forwarder = peerClient
	}

	d := &dispatcher.Dispatcher{
		Config:      config,
		Router:      onionRouter,
		Swarm:       swarmStore,
		Directory:   directoryService,
		Forwarder:   forwarder,
		RateLimiter: rateLimiter,
		Metrics:     m,
		Logger:      logger,
	}

	return &Server{
		config:     config,
		logger:     logger,
		dispatcher: d,
		router:     onionRouter,
		swarmStore: swarmStore,
		peerClient: peerClient,
	}, nil
}

func newStorageBackend(config *common.Config) (swarm.Storage, error) {
	backend := config.Storage.Backend
	var base swarm.Storage
	var err error

	switch backend {
	case "", "memory":
		base = swarm.NewMemoryStorage()
	case "sqlite":
		base, err = swarm.NewSQLiteStorage(config.Storage.Path)
	case "rocksdb":
		base, err = swarm.NewRocksDBStorage(config.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if config.Storage.MaxSizeGB <= 0 {
		return base, nil
	}
	return swarm.NewQuotaStorage(base, config.Storage.MaxSizeGB)
}

func (s *Server) Start(ctx context.Context) error {
	r := s.dispatcher.Routes()

	if s.config.Metrics.Enabled {
		r.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods(http.MethodGet)
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
		},
	}

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      r,
		TLSConfig:    tlsConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting ghostnodes", zap.String("version", Version), zap.String("addr", s.config.ListenAddress))

	go func() {
		var err error
		if s.config.TLS.CertFile != "" && s.config.TLS.KeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			s.logger.Warn("running without TLS; use for testing only")
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("server error", zap.Error(err))
		}
	}()

	go s.cleanupLoop(ctx)
	if s.dispatcher.RateLimiter != nil {
		go s.rateLimiterCleanupLoop(ctx)
	}

	return nil
}

func (s *Server) WaitForShutdown(cancel context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	s.logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during graceful shutdown", zap.Error(err))
	}

	s.router.Close()
	if s.peerClient != nil {
		s.peerClient.Close()
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.swarmStore.CleanupExpired()
			if err != nil {
				s.logger.Error("cleanup error", zap.Error(err))
			} else {
				s.logger.Info("cleaned up expired messages", zap.Int("count", count))
			}
			s.dispatcher.Directory.HealthCheck()
		}
	}
}

func (s *Server) rateLimiterCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatcher.RateLimiter.Cleanup()
		}
	}
}

func loadConfig(filename string) (*common.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config common.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func loadPrivateKey(filename string, logger *zap.Logger) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		_, priv, err := common.GenerateKeypair()
		if err != nil {
			return nil, err
		}

		if err := os.WriteFile(filename, priv, 0600); err != nil {
			logger.Warn("failed to persist generated private key", zap.Error(err))
		}

		return priv, nil
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(data))
	}

	return ed25519.PrivateKey(data), nil
}
