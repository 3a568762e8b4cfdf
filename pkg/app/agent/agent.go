// Package agent implements app.Runner for the elementsd daemon.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apphttp "github.com/chainsafe/elements-duel/pkg/app/http"
	"github.com/chainsafe/elements-duel/pkg/auth"
	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/engine"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/pgutil"
	"github.com/chainsafe/elements-duel/pkg/vault"
	"github.com/chainsafe/elements-duel/pkg/vault/leveldb"
	"github.com/chainsafe/elements-duel/pkg/vault/pg"
	"github.com/chainsafe/elements-duel/pkg/wallet"
)

// Server holds the daemon configuration
type Server struct {
	cfg *config.Config
}

// NewServer creates the daemon runner
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the daemon and blocks until SIGINT/SIGTERM or a fatal error
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("agent config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting elements agent",
		zap.Int64("chain_id", cfg.Network.ChainID),
		zap.String("contract", cfg.Ledger.ContractAddress),
		zap.String("wallet", cfg.Wallet.Type),
		zap.String("vault", cfg.Vault.Backend))

	v, err := s.openVault(logger)
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	stopPurge, err := vault.StartPurge(ctx, v, cfg.Vault.PurgeSchedule, logger)
	if err != nil {
		return fmt.Errorf("start vault purge: %w", err)
	}
	defer stopPurge()

	w, err := wallet.New(ctx, &cfg.Wallet, &cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	defer func() { _ = w.Close() }()

	factory := func(provider *rpc.Client) (connection.Ledger, error) {
		return ethereum.NewClient(provider, &cfg.Ledger, logger)
	}
	manager := connection.NewManager(&cfg.Connection, &cfg.Network, &cfg.Ledger, w, factory, logger)

	eng, err := engine.New(&cfg.Engine, &cfg.Ledger, cfg.Network.Currency.Decimals, manager, v, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// a wallet that already granted access is picked up without prompting
	if err := manager.Reconnect(ctx); err != nil {
		logger.Warn("Silent reconnect failed", zap.Error(err))
	}

	router := s.setupRouter(manager, engine.NewLog(eng, logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(manager.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(eng.Run(gctx)) })
	g.Go(func() error { return apphttp.ServeAndWait(gctx, router, logger, &cfg.Server) })

	err = g.Wait()
	logger.Info("Elements agent stopped")
	return err
}

func (s *Server) openVault(logger *zap.Logger) (*vault.Vault, error) {
	cfg := s.cfg.Vault

	var store vault.Store
	switch cfg.Backend {
	case "leveldb":
		st, err := leveldb.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open vault: %w", err)
		}
		store = st
	case "postgres":
		db, err := pgutil.ConnectDB(&s.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect vault db: %w", err)
		}
		store = &closingStore{Store: pg.NewStore(db), db: db}
		logger.Info("Connected to vault database",
			zap.String("host", s.cfg.Database.Host),
			zap.String("database", s.cfg.Database.Database))
	case "memory":
		logger.Warn("Vault is in memory; secrets are lost on restart")
		store = vault.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown vault backend %q", cfg.Backend)
	}

	opts := []vault.Option{vault.WithRetention(cfg.Retention)}
	if cfg.EncryptionKey != "" {
		sealer, err := vault.NewAESSealerFromBase64(cfg.EncryptionKey)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("invalid vault encryption key: %w", err)
		}
		opts = append(opts, vault.WithSealer(sealer))
	}
	return vault.New(store, logger, opts...), nil
}

// closingStore ties the bun connection's lifetime to the store
type closingStore struct {
	vault.Store
	db *bun.DB
}

func (s *closingStore) Close() error {
	return errors.Join(s.Store.Close(), s.db.Close())
}

func (s *Server) setupRouter(manager *connection.Manager, svc engine.Service, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		apphttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		st := manager.State()
		status := http.StatusOK
		if !st.Usable() {
			status = http.StatusServiceUnavailable
		}
		apphttp.WriteJSON(w, status, map[string]any{"ready": st.Usable(), "status": st.Status})
	})
	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.API.AuthSecret != "" {
			r.Use(auth.Middleware(auth.NewHMACValidator(s.cfg.API.AuthSecret, s.cfg.API.AuthIssuer), logger))
		} else {
			logger.Warn("API authentication disabled; set api.auth_secret to require bearer tokens")
		}
		connection.RegisterRoutes(r, manager, logger)
		engine.RegisterRoutes(r, svc, s.cfg.Network.Currency.Decimals, logger)
	})
	return r
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
