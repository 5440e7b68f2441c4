// Command tolstake runs the staking ledger service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/tolelom/tolstake/catalog"
	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/config"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/indexer"
	"github.com/tolelom/tolstake/ledger"
	"github.com/tolelom/tolstake/metrics"
	"github.com/tolelom/tolstake/relay"
	"github.com/tolelom/tolstake/rpc"
	"github.com/tolelom/tolstake/storage"
	"github.com/tolelom/tolstake/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolstake/vm/modules/economy"
	_ "github.com/tolelom/tolstake/vm/modules/staking"
)

func main() {
	app := cli.App{
		Name:  "tolstake",
		Usage: "staking ledger service",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			rpcAddrFlag,
			verbosityFlag,
			allowTimeOverrideFlag,
		},
		Action: runAction,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "start the ledger service (default)",
				Flags:  []cli.Flag{configFlag, dataDirFlag, rpcAddrFlag, verbosityFlag, allowTimeOverrideFlag},
				Action: runAction,
			},
			{
				Name:   "dumpconfig",
				Usage:  "write the effective configuration as TOML",
				Flags:  []cli.Flag{configFlag, dataDirFlag, rpcAddrFlag, verbosityFlag, outFlag},
				Action: dumpConfigAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(verbosity int) {
	useColor := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), useColor)
	log.SetDefault(log.NewLogger(handler))
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if v := ctx.String(dataDirFlag.Name); v != "" {
		cfg.DataDir = v
	}
	if v := ctx.String(rpcAddrFlag.Name); v != "" {
		cfg.RPC.Addr = v
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.Bool(allowTimeOverrideFlag.Name) {
		cfg.AllowTimeOverride = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func dumpConfigAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out := ctx.String(outFlag.Name)
	if err := config.Save(cfg, out); err != nil {
		return err
	}
	fmt.Println("Config written to", out)
	return nil
}

func runAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	initLogger(cfg.Verbosity)

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer ldb.Close()
	var db storage.DB = ldb
	if cfg.CacheSize > 0 {
		if db, err = storage.NewCachedDB(ldb, cfg.CacheSize); err != nil {
			return err
		}
	}
	state := storage.NewStateDB(db)

	// ---- clock ----
	var clk clock.Clock = clock.System{}
	if cfg.Clock.NTPServer != "" {
		synced, err := clock.Sync(cfg.Clock.NTPServer, cfg.Clock.MaxOffset.Duration)
		if err != nil {
			log.Warn("NTP sync failed, using local clock", "server", cfg.Clock.NTPServer, "err", err)
		} else {
			clk = synced
		}
	}

	// ---- events, indexes, metrics ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	m := metrics.New()
	m.Attach(emitter)

	// ---- external services ----
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgPool, bus, err := connectServices(runCtx, cfg)
	if err != nil {
		return err
	}
	var cat rpc.Catalog
	if pgPool != nil {
		defer pgPool.Close()
		cat = catalog.NewStore(pgPool)
	}
	if bus != nil {
		defer bus.Close()
		r := relay.New(bus, cfg.Relay.Prefix, cfg.Relay.Buffer)
		r.Attach(runCtx, emitter)
		defer r.Stop()
	}

	// ---- genesis ----
	root, ran, err := config.ApplyGenesis(cfg, state, clk, emitter)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if ran {
		log.Info("Genesis applied", "root", root, "alloc", len(cfg.Genesis.Alloc), "pools", len(cfg.Genesis.Pools))
	} else {
		log.Info("Ledger opened", "dir", cfg.DataDir, "genesis", root)
	}

	// ---- VM executor ----
	exec := vm.NewExecutor(state, ledger.NewStateBank(state), clk, emitter)
	exec.AllowTimeOverride(cfg.AllowTimeOverride)
	if cfg.AllowTimeOverride {
		log.Warn("Time override enabled, clients may choose stake and redeem times")
	}
	if err := seedMetrics(exec, idx, m); err != nil {
		return fmt.Errorf("seed metrics: %w", err)
	}

	// ---- RPC ----
	tlsCfg, err := config.LoadTLSConfig(&cfg.RPC.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	stream := rpc.NewStream(emitter, cfg.RPC.AllowedOrigins)
	srv := rpc.NewServer(rpc.Options{
		Addr:           cfg.RPC.Addr,
		AuthToken:      cfg.RPC.AuthToken,
		AllowedOrigins: cfg.RPC.AllowedOrigins,
		TLS:            tlsCfg,
		Metrics:        m.Handler(),
	}, rpc.NewHandler(exec, idx, cat), stream)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}

	<-runCtx.Done()
	log.Info("Shutting down")
	if err := srv.Stop(); err != nil {
		log.Warn("RPC shutdown", "err", err)
	}
	return nil
}

// seedMetrics loads every indexed pool so the state gauges start from the
// persisted totals.
func seedMetrics(exec *vm.Executor, idx *indexer.Indexer, m *metrics.Metrics) error {
	ids, err := idx.Pools()
	if err != nil {
		return err
	}
	pools := make([]*core.Pool, 0, len(ids))
	err = exec.View(func(ctx *vm.Context) error {
		k := ctx.Keeper()
		for _, id := range ids {
			p, err := k.Pool(id)
			if err != nil {
				return err
			}
			pools = append(pools, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.Seed(pools)
	log.Info("Metrics seeded", "pools", len(pools))
	return nil
}

// connectServices dials the optional catalog database and Redis relay
// concurrently. Either result is nil when not configured.
func connectServices(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *relay.RedisBus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var (
		pgPool *pgxpool.Pool
		bus    *relay.RedisBus
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Catalog.Enabled() {
		g.Go(func() error {
			pool, err := catalog.Open(gctx, cfg.Catalog)
			if err != nil {
				return err
			}
			if err := catalog.RunMigrations(gctx, pool); err != nil {
				pool.Close()
				return err
			}
			pgPool = pool
			log.Info("Pool catalog connected")
			return nil
		})
	}
	if cfg.Relay.Addr != "" {
		g.Go(func() error {
			b, err := relay.Dial(gctx, cfg.Relay)
			if err != nil {
				return err
			}
			bus = b
			log.Info("Event relay connected", "addr", cfg.Relay.Addr, "prefix", cfg.Relay.Prefix)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if pgPool != nil {
			pgPool.Close()
		}
		if bus != nil {
			_ = bus.Close()
		}
		return nil, nil, err
	}
	return pgPool, bus, nil
}
