package app

import (
	"context"
	"fmt"
	"time"

	httpHandler "github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/inbound/http"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/lsm"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/memkv"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/rediskv"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/config"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/service"
	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/idgen"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const maxClockDrift = 50 * time.Millisecond

// wiring is a store and its server for one id type.
type wiring struct {
	server        runner
	closeStore    func()
	ensureIndexes func(ctx context.Context) (bool, error)
}

// openBackend returns the configured key/value backend. The redis client
// is returned too when the backend owns one, so ids can share its clock.
func openBackend(cfg *config.Config) (port.KVBackend, redis.UniversalClient, error) {
	switch cfg.Backend.Kind {
	case config.BackendMemory, "":
		logger.Warnw("Using in-memory backend, data is lost on exit")
		return memkv.New(), nil, nil

	case config.BackendLSM:
		adapter, err := lsm.NewLSMAdapter(cfg.Backend.LSM)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open lsm backend: %w", err)
		}
		logger.Infow("LSM backend opened", "data_dir", cfg.Backend.LSM.DataDir, "live_keys", adapter.LiveKeys())
		return adapter, nil, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Backend.Redis.Addr,
			Password: cfg.Backend.Redis.Password,
			DB:       cfg.Backend.Redis.DB,
		})
		store := rediskv.New(client, cfg.Backend.Redis.KeyPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to reach redis backend: %w", err)
		}
		logger.Infow("Redis backend connected", "addr", cfg.Backend.Redis.Addr, "key_prefix", cfg.Backend.Redis.KeyPrefix)
		return store, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// storeOptions maps the store section onto service options.
func storeOptions(cfg *config.Config) (service.Options, error) {
	alg, err := digest.Parse(cfg.Store.Digest)
	if err != nil {
		return service.Options{}, err
	}
	readPref, err := port.ParseReadPreference(cfg.Store.ReadPreference)
	if err != nil {
		return service.Options{}, err
	}
	wc := wire.WriteConcern{
		W:        cfg.Store.WriteConcern.W,
		WTag:     cfg.Store.WriteConcern.Tag,
		Journal:  cfg.Store.WriteConcern.Journal,
		WTimeout: time.Duration(cfg.Store.WriteConcern.TimeoutMS) * time.Millisecond,
	}
	return service.Options{
		Prefix:         cfg.Store.Prefix,
		ChunkSize:      cfg.Store.ChunkSize,
		ReadBufferSize: cfg.Store.ReadBufferSize,
		ParallelChunks: cfg.Store.ParallelChunks,
		Digest:         alg,
		VerifyDigest:   cfg.Store.VerifyDigest,
		WriteConcern:   &wc,
		ReadPreference: readPref,
	}, nil
}

func wireSnowflake(cfg *config.Config, db port.Database, storeOpts service.Options, redisClient redis.UniversalClient) (*wiring, error) {
	var clock idgen.Clock = &idgen.SystemClock{}
	var opts []idgen.Option
	if redisClient != nil {
		// Server time is sampled, so small regressions are expected.
		clock = idgen.NewRedisClock(redisClient)
		opts = append(opts, idgen.WithMaxDrift(maxClockDrift))
	}
	gen, err := idgen.New(cfg.App.NodeID, clock, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init snowflake: %w", err)
	}
	return wireStore[int64](cfg, db, storeOpts, domain.NewSnowflakeIDs(gen))
}

func wireUUID(cfg *config.Config, db port.Database, opts service.Options) (*wiring, error) {
	return wireStore[string](cfg, db, opts, domain.UUIDIDs{})
}

func wireStore[ID comparable](cfg *config.Config, db port.Database, opts service.Options, ids domain.IDCodec[ID]) (*wiring, error) {
	store, err := service.NewStore[ID](db, ids, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return &wiring{
		server:        httpHandler.NewServer[ID](cfg, store, ids),
		closeStore:    store.Close,
		ensureIndexes: store.EnsureIndexes,
	}, nil
}
