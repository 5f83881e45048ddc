package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/config"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/emitter"
	"github.com/vietddude/chainwallet/internal/indexing/feed"
	"github.com/vietddude/chainwallet/internal/indexing/health"
	"github.com/vietddude/chainwallet/internal/indexing/poll"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/infra/chain/substrate"
	"github.com/vietddude/chainwallet/internal/infra/metacache"
	redisclient "github.com/vietddude/chainwallet/internal/infra/redis"
	"github.com/vietddude/chainwallet/internal/infra/storage"
	"github.com/vietddude/chainwallet/internal/infra/storage/memory"
	"github.com/vietddude/chainwallet/internal/infra/storage/postgres"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/equilibrium"
	"github.com/vietddude/chainwallet/internal/modules/registry"
	"github.com/vietddude/chainwallet/internal/modules/substratenative"
	"github.com/vietddude/chainwallet/internal/modules/substratetokens"
	"github.com/vietddude/chainwallet/internal/transfer"
)

// Wallet is the main application struct that manages the balance tracking lifecycle.
type Wallet struct {
	cfg *config.AppConfig

	dir          *domain.Directory
	state        *substrate.Connector
	contract     *evm.Connector
	modules      *registry.Registry
	orchestrator *feed.Orchestrator
	stream       *emitter.Stream
	persister    *emitter.Persister
	transfers    *transfer.Service
	healthServer *health.Server
	rates        map[domain.TokenID]balance.Rates
	unwatchDir   func()

	balanceRepo storage.BalanceRepository
	accountRepo storage.AccountRepository
	metaCache   *metacache.Cache
	db          *postgres.DB
	redisClient *redisclient.Client

	log *slog.Logger

	mu  sync.Mutex
	sub *feed.Subscription
}

// NewWallet creates a new Wallet instance with all dependencies initialized.
func NewWallet(ctx context.Context, cfg *config.AppConfig) (*Wallet, error) {
	w := &Wallet{cfg: cfg, log: slog.Default().With("component", "wallet")}

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		w.db = db
		w.balanceRepo = postgres.NewBalanceRepo(db)
		w.accountRepo = postgres.NewAccountRepo(db)
		w.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		w.balanceRepo = memory.NewBalanceRepo(store)
		w.accountRepo = memory.NewAccountRepo(store)
		w.log.Info("Using Memory storage")
	}

	// 2. Initialize the persisted metadata cache
	metaStore, err := w.openMetadataStore(ctx, cfg.MetadataCache)
	if err != nil {
		w.closeStores()
		return nil, err
	}
	w.metaCache = metacache.New(metaStore)

	// 3. Initialize Directory and Connectors
	w.dir = domain.NewDirectory(cfg.Snapshot())

	keep := metadata.Keep{
		Pallets:   metadata.MergeSelections(substratenative.Keep, substratetokens.Keep, equilibrium.Keep),
		APIs:      []string{"TransactionPaymentApi"},
		Extrinsic: true,
	}
	w.state = substrate.NewConnector(substrate.Config{DialTimeout: cfg.RPC.DialTimeout, Keep: &keep}, w.metaCache)
	for _, ch := range w.dir.Chains() {
		w.state.AddChain(ch)
	}

	w.contract = evm.NewConnector(evm.Config{
		Timeout:     cfg.RPC.Timeout,
		BatchWindow: cfg.Batch.Window,
		BatchSize:   cfg.Batch.MaxSize,
	})
	for _, n := range w.dir.EvmNetworks() {
		w.contract.AddNetwork(n)
	}

	// 4. Modules, Orchestrator and Stream
	w.modules = registry.New(w.state, w.contract, w.dir, poll.Config{
		Interval:  cfg.Poll.Interval,
		ZeroEvery: cfg.Poll.ZeroBalanceEvery,
	})
	w.orchestrator = feed.New(w.dir, w.modules, feed.Config{RetryInterval: cfg.Poll.RetryInterval})
	w.persister = emitter.NewPersister(w.balanceRepo, cfg.Persist.Interval)
	w.stream = emitter.NewStream(w.balanceRepo, w.persister)
	w.rates = cfg.Rates()
	w.stream.SetHydration(ctx, balance.NewHydrationContext(w.dir.Snapshot(), w.rates))
	w.unwatchDir = w.dir.OnReplace(func(s *domain.Snapshot) {
		w.stream.SetHydration(context.Background(), balance.NewHydrationContext(s, w.rates))
	})
	w.transfers = transfer.New(w.dir, w.modules, w.state, w.contract, w.accountRepo, nil)

	// 5. Initialize Health Monitor
	monitor := health.NewMonitor(w.state, w.contract, w.orchestrator, w.stream)
	w.healthServer = health.NewServer(monitor, cfg.Server.Port)

	return w, nil
}

func (w *Wallet) openMetadataStore(ctx context.Context, cfg config.MetadataCacheConfig) (metacache.Store, error) {
	switch cfg.Backend {
	case "badger":
		s, err := metacache.OpenBadger(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open metadata cache: %w", err)
		}
		w.log.Info("Using badger metadata cache", "path", cfg.Path)
		return s, nil
	case "redis":
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect metadata cache: %w", err)
		}
		w.redisClient = client
		w.log.Info("Using redis metadata cache")
		return redisclient.NewMetadataRepo(client, cfg.Prefix), nil
	}
	return metacache.NewMemoryStore(), nil
}

// Directory returns the chain and token directory.
func (w *Wallet) Directory() *domain.Directory { return w.dir }

// Stream returns the balance update stream.
func (w *Wallet) Stream() *emitter.Stream { return w.stream }

// Transfers returns the transfer service.
func (w *Wallet) Transfers() *transfer.Service { return w.transfers }

// Discover asks every enabled module for its chain metadata and tokens and
// publishes them in the directory. A failing chain is logged and skipped.
func (w *Wallet) Discover(ctx context.Context) error {
	type job struct {
		chainRef string
		source   domain.Source
		cfg      modules.ModuleConfig
	}
	var jobs []job
	for _, ch := range w.cfg.Chains {
		for s, mc := range ch.ModuleConfigs() {
			jobs = append(jobs, job{string(ch.ID), s, mc})
		}
	}
	for _, n := range w.cfg.EvmNetworks {
		for s, mc := range n.ModuleConfigs() {
			jobs = append(jobs, job{string(n.ID), s, mc})
		}
	}

	found := make([]map[domain.TokenID]domain.Token, len(jobs))
	errs := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, j := range jobs {
		g.Go(func() error {
			mod, err := w.modules.Module(j.source)
			if err != nil {
				errs[i] = err
				return nil
			}
			meta, err := mod.FetchChainMeta(gctx, j.chainRef)
			if err != nil {
				errs[i] = fmt.Errorf("%s/%s meta: %w", j.chainRef, j.source, err)
				return nil
			}
			tokens, err := mod.FetchChainTokens(gctx, j.chainRef, meta, j.cfg)
			if err != nil {
				errs[i] = fmt.Errorf("%s/%s tokens: %w", j.chainRef, j.source, err)
				return nil
			}
			found[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	snap := *w.dir.Snapshot()
	tokens := make(map[domain.TokenID]domain.Token, len(snap.Tokens))
	maps.Copy(tokens, snap.Tokens)
	for _, ts := range found {
		maps.Copy(tokens, ts)
	}
	snap.Tokens = tokens
	w.dir.Replace(snap)

	for _, err := range errs {
		if err != nil {
			w.log.Warn("Token discovery failed", "error", err)
		}
	}
	w.log.Info("Token discovery finished", "tokens", len(tokens))

	if len(tokens) == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Request lists every directory token with the tracked addresses of its
// chain family.
func (w *Wallet) Request(ctx context.Context) (modules.AddressesByToken, error) {
	accounts, err := w.accountRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return BuildRequest(w.dir.Tokens(), accounts), nil
}

// Fetch discovers tokens and reads every tracked balance once. Balances of
// the feeds that succeeded are returned along with the joined feed errors.
func (w *Wallet) Fetch(ctx context.Context) (*balance.Balances, error) {
	if err := w.saveAccounts(ctx); err != nil {
		return nil, err
	}
	if err := w.Discover(ctx); err != nil {
		return nil, err
	}
	req, err := w.Request(ctx)
	if err != nil {
		return nil, err
	}
	bs, err := w.orchestrator.Fetch(ctx, req)
	if bs != nil {
		bs = bs.WithHydration(balance.NewHydrationContext(w.dir.Snapshot(), w.rates))
	}
	return bs, err
}

// EstimateFee discovers tokens, builds req and returns its fee.
func (w *Wallet) EstimateFee(ctx context.Context, req transfer.Request) (*transfer.Fee, error) {
	if err := w.Discover(ctx); err != nil {
		return nil, err
	}
	tx, err := w.transfers.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	return w.transfers.EstimateFee(ctx, tx)
}

func (w *Wallet) saveAccounts(ctx context.Context) error {
	for _, a := range w.cfg.DomainAccounts() {
		if err := w.accountRepo.Save(ctx, a); err != nil {
			return fmt.Errorf("save account %s: %w", a.Address, err)
		}
	}
	return nil
}

// Start starts the wallet and all its components.
func (w *Wallet) Start(ctx context.Context) error {
	if err := w.saveAccounts(ctx); err != nil {
		return err
	}

	// Start Health Server
	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	if err := w.stream.Load(ctx); err != nil {
		w.log.Warn("Failed to load cached balances", "error", err)
	}
	w.stream.Subscribe(ctx, &LogEmitter{log: w.log})

	if err := w.Discover(ctx); err != nil {
		return err
	}
	req, err := w.Request(ctx)
	if err != nil {
		return err
	}

	sub, err := w.orchestrator.Subscribe(ctx, req, func(u feed.Update) {
		w.stream.Apply(ctx, u)
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	go w.persister.Run(ctx)
	go w.runMetricsUpdater(ctx)

	w.log.Info("Wallet started", "tokens", len(req), "chains", len(w.cfg.Chains)+len(w.cfg.EvmNetworks))
	return nil
}

// Stop stops the wallet.
func (w *Wallet) Stop(ctx context.Context) error {
	w.log.Info("Stopping Wallet...")

	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}

	if err := w.persister.Flush(ctx); err != nil {
		w.log.Warn("Failed to flush balances", "error", err)
	}

	err := w.healthServer.Stop(ctx)
	w.Close()
	return err
}

// Close releases connections and stores.
func (w *Wallet) Close() {
	w.unwatchDir()
	if err := w.state.Close(); err != nil {
		w.log.Warn("Failed to close substrate connector", "error", err)
	}
	if err := w.contract.Close(); err != nil {
		w.log.Warn("Failed to close evm connector", "error", err)
	}
	w.closeStores()
}

func (w *Wallet) closeStores() {
	if w.metaCache != nil {
		if err := w.metaCache.Close(); err != nil {
			w.log.Warn("Failed to close metadata cache", "error", err)
		}
	}
	// Close Redis
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}
}
