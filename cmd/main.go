package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/jobsync/internal/cache"
	"github.com/maxaizer/jobsync/internal/clients/backend"
	"github.com/maxaizer/jobsync/internal/clock"
	"github.com/maxaizer/jobsync/internal/config"
	"github.com/maxaizer/jobsync/internal/domain/events"
	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/maxaizer/jobsync/internal/logger"
	"github.com/maxaizer/jobsync/internal/metrics"
	"github.com/maxaizer/jobsync/internal/repositories"
	"github.com/maxaizer/jobsync/internal/services"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

func newBackendClient(cfg config.BackendConfig, engineCfg config.EngineConfig, requestCache *cache.RequestCache) *backend.Client {
	client := backend.NewClient(cfg.BaseURL)
	client.SetRateLimit(cfg.MaxRequestsPerSecond)
	client.SetTimeouts(cfg.RequestTimeout, cfg.SubmitTimeout)
	client.SetCache(requestCache, engineCfg.CacheTTL)
	return client
}

func subscribeLogging(bus EventBus.Bus) {
	subscribe := func(topic string, fn any) {
		if err := bus.Subscribe(topic, fn); err != nil {
			log.Fatalf("can't subscribe to %s: %v", topic, err)
		}
	}

	subscribe(events.NotificationTopic, func(e events.Notification) {
		log.Info(e.Message)
	})
	subscribe(events.ErrorRaisedTopic, func(e events.ErrorRaised) {
		log.Warn(e.Message)
	})
	subscribe(events.RunStatusTopic, func(e events.RunStatus) {
		if e.Run.JobID == "" {
			return
		}
		stats := e.Run.Stats
		log.Debugf("run %s %s: %d new, %d duplicates, %d filtered, query %d of %d on %s",
			e.Run.JobID, e.Run.State, stats.NewRecords, stats.Duplicates, stats.Filtered,
			stats.CurrentQueryIndex, stats.TotalQueries, stats.CurrentSite)
	})
	subscribe(events.JobsChangedTopic, func(e events.JobsChanged) {
		log.Debugf("collection v%d holds %d jobs", e.Version, e.Count)
	})
}

func toQuery(cfg config.SearchConfig) models.Query {
	return models.Query{
		Title:    cfg.Title,
		Location: cfg.Location,
		Country:  cfg.Country,
		Sites:    lo.Map(cfg.Sites, func(site string, _ int) models.Site { return models.Site(site) }),
		HoursOld: cfg.HoursOld,
	}
}

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()

	logger.Setup(cfg.Logger)
	defer logger.Cleanup()

	metrics.StartMetricsServer(cfg.Metrics.Address)

	dbContext, err := repositories.NewDbContext(cfg.DB.ConnectionString)
	if err != nil {
		log.Fatalf("can't create db context: %v", err)
	}
	defer dbContext.Close()

	err = dbContext.Migrate()
	if err != nil {
		log.Fatalf("can't migrate db context: %v", err)
	}

	requestCache := cache.New(clock.Real{})
	scheduler := clock.NewCronScheduler()
	defer scheduler.Stop()

	bus := EventBus.New()
	subscribeLogging(bus)

	engine := services.NewEngine(services.EngineDependencies{
		Backend:   newBackendClient(cfg.Backend, cfg.Engine, requestCache),
		Bus:       bus,
		Clock:     clock.Real{},
		Scheduler: scheduler,
		Store:     repositories.NewDataRepository(dbContext.DB),
		Confirmer: services.AlwaysConfirm{},
		Cache:     requestCache,
	}, cfg.Engine, services.HealthCheck{
		Attempts: cfg.Backend.HealthAttempts,
		Interval: cfg.Backend.HealthInterval,
	})

	if err = engine.WaitForBackend(ctx); err != nil {
		log.Fatalf("backend at %s is not available: %v", cfg.Backend.BaseURL, err)
	}

	if err = engine.Start(ctx); err != nil {
		log.Errorf("initial load failed: %v", err)
	}

	if cfg.Search.Enabled() {
		run, err := engine.SubmitSearch(ctx, toQuery(cfg.Search))
		if err != nil {
			log.Errorf("can't submit configured search: %v", err)
		} else {
			log.Infof("submitted configured search as run %s", run.JobID)
		}
	}

	<-ctx.Done()

	log.Info("Shutting down services...")
	engine.Stop()
	log.Info("Services stopped.")
}
