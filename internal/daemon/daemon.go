package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/secfleet/secfleet/internal/api"
	"github.com/secfleet/secfleet/internal/conform"
	"github.com/secfleet/secfleet/internal/health"
	"github.com/secfleet/secfleet/internal/infra/broadcast"
	"github.com/secfleet/secfleet/internal/infra/connector"
	"github.com/secfleet/secfleet/internal/infra/metrics"
	"github.com/secfleet/secfleet/internal/infra/sqlite"
	"github.com/secfleet/secfleet/internal/job"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// Daemon is the secfleet runtime. It wires together all services.
type Daemon struct {
	Config      Config
	Home        string
	Log         *zap.Logger
	DB          *sqlite.DB
	Connector   *connector.Memory
	Broadcaster *broadcast.Broadcaster
	Engine      *job.Engine
	Queue       *job.Queuer // periodic sync jobs, one at a time
	Sync        *conform.Service
	Health      *health.Checker
	Server      *api.Server
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, secfleetHome())
}

// NewWithConfig creates a Daemon keeping its state under home.
func NewWithConfig(cfg Config, home string) (*Daemon, error) {
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Job ids continue from the last persisted record.
	firstID, err := db.NextJobID(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("next job id: %w", err)
	}

	engine := job.NewEngine(lock.NewManager(), cfg.EngineSettings(),
		job.WithLogger(logger),
		job.WithAlerter(db),
		job.WithObserver(metrics.Recorder{}),
		job.WithFirstJobID(firstID),
	)

	conn := connector.NewMemory()
	bc := broadcast.New()
	deps := &conform.Deps{
		Store:       db,
		Connector:   conn,
		Broadcaster: bc,
		Txer:        db,
		Log:         logger,
		Actions:     metrics.Recorder{},
	}
	svc := conform.NewService(engine, deps, db)
	checker := health.NewChecker(db, home, engine, parseDuration(cfg.Health.Interval, 30*time.Second))

	srv := api.NewServer(api.Deps{
		Engine:  engine,
		Sync:    svc,
		Store:   db,
		Records: db,
		Alerts:  db,
		Health:  checker,
		Log:     logger,
	})
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:      cfg,
		Home:        home,
		Log:         logger,
		DB:          db,
		Connector:   conn,
		Broadcaster: bc,
		Engine:      engine,
		Queue:       job.NewQueuer(engine, 0),
		Sync:        svc,
		Health:      checker,
		Server:      srv,
	}, nil
}

// Serve starts the HTTP server and the background loops, and blocks until
// ctx ends or a signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Health.Run(ctx)
		return nil
	})
	g.Go(func() error {
		d.watchEvents(ctx)
		return nil
	})
	if d.Config.Sync.Enabled {
		interval := parseDuration(d.Config.Sync.Interval, 5*time.Minute)
		g.Go(func() error {
			d.Queue.Run(ctx)
			return nil
		})
		g.Go(func() error {
			d.syncLoop(ctx, interval)
			return nil
		})
	}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if serr := d.Engine.Shutdown(shutdownCtx); serr != nil {
			d.Log.Warn("engine shutdown", zap.Error(serr))
		}
		return err
	})

	log.Printf("secfleet serving on http://%s", addr)
	if d.Config.API.Metrics {
		log.Printf("  Metrics: http://%s/metrics", addr)
	}
	if d.Config.Sync.Enabled {
		log.Printf("  Sync: every %s", d.Config.Sync.Interval)
	}

	err := g.Wait()
	_ = d.DB.Close()
	return err
}

// syncLoop queues a conformance job for every virtual system each
// interval. The queue runs them one after another.
func (d *Daemon) syncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, err := d.Sync.QueueAll(ctx, d.Queue)
			if err != nil {
				d.Log.Warn("periodic sync", zap.Error(err))
			}
			d.Log.Debug("periodic sync queued", zap.Int("jobs", len(queued)))
		}
	}
}

// watchEvents logs committed entity changes and exports broadcaster
// counters.
func (d *Daemon) watchEvents(ctx context.Context) {
	events, cancel := d.Broadcaster.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Log.Debug("entity changed",
				zap.String("op", string(ev.Op)),
				zap.String("object", string(ev.Object)),
				zap.Int64("id", ev.ID),
			)
			metrics.SetBroadcast(d.Broadcaster.Stats())
		}
	}
}

// RunOnce runs a conformance job for virtual system id and waits for it.
func (d *Daemon) RunOnce(ctx context.Context, id int64) (*job.Job, error) {
	j, err := d.Sync.SyncVirtualSystem(ctx, id)
	if err != nil {
		return nil, err
	}
	return j, j.Wait(ctx)
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if d.Engine != nil {
		_ = d.Engine.Shutdown(ctx)
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
