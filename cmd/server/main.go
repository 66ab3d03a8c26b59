package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hlgate/internal/api"
	"hlgate/internal/audit"
	"hlgate/internal/auth"
	"hlgate/internal/batch"
	"hlgate/internal/codec"
	"hlgate/internal/config"
	"hlgate/internal/files"
	"hlgate/internal/pg"
	"hlgate/internal/reference"
	"hlgate/internal/schema"
	"hlgate/internal/store"
)

func main() {
	cfg, err := config.LoadWithPath("config.json")
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(2)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// 1. Каталоги: сущности, токены, справочники
	reg, err := schema.Load(cfg.EntitiesFile)
	if err != nil {
		return err
	}
	log.Info("entity catalog loaded", "path", cfg.EntitiesFile, "entities", len(reg.List()))

	tokens, err := auth.LoadTokens(cfg.TokensFile)
	if err != nil {
		return err
	}
	refCatalog, err := reference.LoadCatalog(cfg.ReferencesFile)
	if err != nil {
		return err
	}

	// 2. Redis (если задан): сессии, справочники вне каталога, поток аудита
	var (
		sessions auth.SessionStore = auth.NewMemorySessions()
		refs     reference.Resolver = refCatalog
		sink     audit.Sink         = audit.Slog{Log: log}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		sessions = auth.NewRedisSessions(rdb, "")
		refs = reference.Chain{refCatalog, reference.NewRedis(rdb, "")}
		sink = audit.Fanout{sink, audit.NewRedisStream(rdb, cfg.AuditStream, 100_000, log)}
		log.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	} else {
		log.Warn("redis is not configured: sessions are in-memory only")
	}

	queue := audit.NewAsync(sink, cfg.AuditBuffer, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Close(closeCtx); err != nil {
			log.Warn("audit queue close", "err", err, "dropped", queue.Dropped())
		}
	}()

	// 3. Хранилище записей
	var (
		recs     store.Store = store.NewMemory()
		onReload func(context.Context, *schema.Registry) error
	)
	if cfg.DBURL != "" {
		db, err := pg.Open(ctx, cfg.DBURL, pg.Pool{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return err
		}
		defer db.Close()

		pgs := pg.NewStore(db, reg, cfg.DBSchema, loc, log)
		if cfg.AutoMigrate {
			if err := pgs.Migrate(ctx); err != nil {
				return err
			}
		}
		onReload = func(ctx context.Context, next *schema.Registry) error {
			if cfg.AutoMigrate {
				ddl, err := pg.GenerateDDL(next, cfg.DBSchema)
				if err != nil {
					return err
				}
				if err := pg.ApplyDDL(ctx, db, ddl, log); err != nil {
					return err
				}
			}
			pgs.SetRegistry(next)
			return nil
		}
		recs = pgs
		log.Info("postgres store", "schema", cfg.DBSchema, "autoMigrate", cfg.AutoMigrate, "maxConns", cfg.DBMaxConns)
	} else {
		log.Warn("database is not configured: records are in-memory only")
	}

	fs, err := files.NewLocal(cfg.FilesRoot)
	if err != nil {
		return err
	}

	// 4. HTTP
	srv := api.NewServer(api.Deps{
		Registry:     reg,
		EntitiesPath: cfg.EntitiesFile,
		Codec: codec.New(
			codec.WithLogger(log),
			codec.WithLocation(loc),
			codec.WithFiles(fs),
			codec.WithFileURLPrefix("/api/files/"),
		),
		References: refs,
		Files:      fs,
		Store:      recs,
		Auth:       auth.NewResolver(tokens, sessions, log),
		Batch:      batch.NewExecutor(recs, cfg.MaxBatchItems, log),
		Audit:      queue,
		Log:        log,
		Limits: api.Limits{
			DefaultPage: cfg.DefaultPage,
			MaxPage:     cfg.MaxPage,
		},
		SessionCookie: cfg.SessionCookie,
		OnReload:      onReload,
	})

	log.Info("starting hlgate", "port", cfg.Port)
	return api.RunServer(ctx, ":"+cfg.Port, api.NewRouter(srv), log)
}
