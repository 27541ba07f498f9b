// Package server initializes and runs the publish service.
// It wires the job store, blob storage, pricing, signing, the finalization
// worker and the expiry sweeper, then serves the HTTP API and gRPC health
// until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/arweave"
	"github.com/ABCWORK9/mintydoc/internal/server/chain"
	"github.com/ABCWORK9/mintydoc/internal/server/config"
	"github.com/ABCWORK9/mintydoc/internal/server/httpapi"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/pricing"
	"github.com/ABCWORK9/mintydoc/internal/server/ratelimit"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ABCWORK9/mintydoc/internal/server/services"
	"github.com/ABCWORK9/mintydoc/internal/server/signer"
	"github.com/ABCWORK9/mintydoc/internal/server/storage/blob"
	"github.com/ABCWORK9/mintydoc/internal/server/sweeper"
	"github.com/ABCWORK9/mintydoc/internal/server/worker"
	"go.uber.org/multierr"

	gs "github.com/ABCWORK9/mintydoc/internal/server/grpc"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	metrics *metrics.Collector
	limiter *ratelimit.Limiter

	http    *httpapi.Server
	health  *gs.GRPCServer
	sweeper *sweeper.Sweeper

	// nil when the finalization worker is not configured
	chain      *chain.Client
	finalizer  *services.FinalizeService
	queue      *worker.Queue
	subscriber *worker.Subscriber
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	logger, err := logging.New(c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app := &App{config: c, logger: logger, metrics: metrics.NewCollector()}

	rm := repomanager.New(c.DatabaseDSN)
	if c.DatabaseDSN != "" {
		app.db, err = sql.Open("pgx", c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	} else {
		logger.Warn(ctx, "no database configured, jobs are kept in memory")
	}
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		app.closeDB()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	store, err := blob.NewS3Store(ctx, blob.Settings{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}
	if err := store.Ready(); err != nil {
		logger.Warn(ctx, "blob store not ready, uploads will fail", "error", err)
	}

	feeds := pricing.NewHTTPFeeds(c.ArweavePriceURL, c.ARUSDPriceURL, c.PriceFeedTimeout)
	rates := pricing.NewRateCache(feeds, c.ARUSDCacheTTL, c.ARUSDFallback, logger)
	engine := pricing.NewEngine(feeds, rates, c.BaseFeeCents, c.MarkupMultiplier)

	var sig signer.Signer
	if err := c.ReservationReady(); err != nil {
		logger.Warn(ctx, "reservations disabled", "error", err)
	} else {
		local, err := signer.NewLocalSigner(c.SignerPrivateKey)
		if err != nil {
			app.closeDB()
			return nil, fmt.Errorf("signer init error: %w", err)
		}
		sig = local
		logger.Info(ctx, "quote signer loaded", "address", local.Address().Hex())
	}

	app.limiter = ratelimit.New(ratelimit.Limits{
		IPRequests:     c.IPRateLimit,
		IPWindow:       c.IPRateWindow,
		WalletPerHour:  c.WalletHourlyLimit,
		IdempotencyTTL: c.IdempotencyTTL,
		CacheSize:      c.IdempotencyCacheSize,
	})

	uploads := services.NewUploadService(app.db, rm, store, app.metrics, logger)
	reserve := services.NewReservationService(app.db, rm, engine, sig, app.limiter, services.ReservationSettings{
		ChainID:         c.ChainID,
		ContractAddress: c.ContractAddress,
		TTL:             c.ReservationTTL,
	}, app.metrics, logger)

	var enqueuer services.Enqueuer
	if err := app.initFinalizer(ctx, rm, store); err != nil {
		logger.Warn(ctx, "finalization worker disabled", "error", err)
	} else {
		enqueuer = app.queue
	}
	admin := services.NewAdminService(app.db, rm, enqueuer, logger)

	expiry := services.NewExpiryService(app.db, rm, app.limiter, c.SweepGrace, app.metrics, logger)
	app.sweeper = sweeper.New(logger)
	if err := app.sweeper.Add(c.SweepSchedule, "expire_jobs", expiry.ExpireDue); err != nil {
		app.closeChain()
		app.closeDB()
		return nil, fmt.Errorf("sweeper schedule error: %w", err)
	}

	app.http = httpapi.NewServer(uploads, reserve, logger,
		httpapi.WithAdmin(admin, []byte(c.SecretKey)),
		httpapi.WithMetrics(app.metrics),
	)
	app.health = gs.NewGRPCServer(c.EndpointAddrGRPC, logger)

	return app, nil
}

// initFinalizer connects to the chain and the permanent-storage node. Any
// missing setting leaves the worker off; the HTTP API still runs.
func (app *App) initFinalizer(ctx context.Context, rm repomanager.RepositoryManager, store blob.Store) error {
	c := app.config
	if err := c.FinalizerReady(); err != nil {
		return err
	}

	permanent, err := arweave.New(c.ArweaveNodeURL, c.ArweaveWalletJWKB64)
	if err != nil {
		return err
	}

	client, err := chain.Dial(ctx, chain.Settings{
		RPCURL:   c.RPCURL,
		Contract: c.ContractAddress,
		ChainID:  c.ChainID,
		OwnerKey: c.OwnerPrivateKey,
	})
	if err != nil {
		return err
	}

	app.chain = client
	app.finalizer = services.NewFinalizeService(app.db, rm, client, store, permanent, app.limiter, services.FinalizeSettings{
		MaxAttempts: c.UploadMaxRetries,
		RetryStep:   c.UploadRetryStep,
	}, app.metrics, app.logger)
	app.queue = worker.NewQueue(c.WorkerCount, c.QueueSize, app.metrics)
	app.subscriber = worker.NewSubscriber(client, app.queue, app.logger)
	return nil
}

// finalize adapts FinalizeService to the queue executor.
func (app *App) finalize(ctx context.Context, reservationID string) error {
	err := app.finalizer.Process(ctx, reservationID)
	if errors.Is(err, services.ErrDropped) {
		return worker.ErrSkipped
	}
	return err
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
	if err := app.http.ListenAndServe(app.config.EndpointAddrHTTP); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.limiter.RunJanitor(ctx, janitorInterval)
	}()

	app.sweeper.Start(ctx)

	if app.queue != nil {
		app.queue.Start(ctx, app.finalize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.subscriber.Run(ctx)
		}()
		app.health.SetServing(gs.ServiceFinalizer, true)
	}
	app.health.SetServing(gs.ServiceAPI, true)
	app.health.SetServing("", true)

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")

	if err := app.shutdown(); err != nil {
		app.logger.Error(context.Background(), "shutdown error", "error", err)
	}

	wg.Wait()
}

func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	err = multierr.Append(err, app.http.Shutdown(ctx))
	app.sweeper.Stop()
	if app.queue != nil {
		app.queue.Stop()
	}
	app.closeChain()
	err = multierr.Append(err, app.closeDB())
	return err
}

func (app *App) closeChain() {
	if app.chain != nil {
		app.chain.Close()
	}
}

func (app *App) closeDB() error {
	if app.db == nil {
		return nil
	}
	return app.db.Close()
}
