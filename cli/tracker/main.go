package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/towfleet/tracking/cli/tracker/api"
	"github.com/towfleet/tracking/cli/tracker/batch"
	"github.com/towfleet/tracking/cli/tracker/broadcast"
	"github.com/towfleet/tracking/cli/tracker/bus"
	"github.com/towfleet/tracking/cli/tracker/cache"
	"github.com/towfleet/tracking/cli/tracker/config"
	conn "github.com/towfleet/tracking/cli/tracker/connector/implementation"
	"github.com/towfleet/tracking/cli/tracker/domain"
	"github.com/towfleet/tracking/cli/tracker/repository"
	"github.com/towfleet/tracking/cli/tracker/source"
	mysqlsource "github.com/towfleet/tracking/cli/tracker/source/mysql"
	pgsource "github.com/towfleet/tracking/cli/tracker/source/pg"
)

func main() {
	configFilePath := ""
	flag.StringVar(&configFilePath, "c", "", "path to the config file")
	flag.Parse()

	cfg, err := getConfig(configFilePath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	configureLogging(cfg)

	repo, dbConn, err := buildRepository(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer dbConn.Close()

	store, pubsub := buildRedisTier(cfg)
	lastKnown := cache.NewLastKnown(store)

	var regions domain.RegionChecker
	if cfg.Tracking.GeofenceEnabled {
		regions = cfg.GetGeofenceRegions()
	}
	alerts := domain.NewGeoAlerts(regions, cfg.Tracking.MaxSpeed)

	var writer *batch.Writer
	if cfg.GetPersistEnabled() {
		writer = batch.NewWriter(repo, cfg.Tracking.BatchSize, batch.DefaultMaxQueueSize, cfg.GetBatchInterval())
		writer.Start()
	}

	eventBus := buildEventBus(cfg)

	hub := broadcast.NewHub(pubsub, nil)

	saver := domain.NewSaveLocation(domain.SaveLocationSettings{
		TimestampThreshold: cfg.GetTimestampThreshold(),
		PersistEnabled:     cfg.GetPersistEnabled(),
		GeofenceEnabled:    cfg.Tracking.GeofenceEnabled,
		SpeedAlertEnabled:  cfg.Tracking.SpeedAlert,
		MaxSpeed:           cfg.Tracking.MaxSpeed,
		CacheWriteProb:     cfg.Tracking.CacheWriteProb,
		BusSampleProb:      cfg.Tracking.BusSampleProb,
	}, lastKnown, alerts, sinkOrNil(writer), hub, eventBus, repo)

	cleanup := domain.NewCleanupLocations(repo, cfg.Tracking.DataRetentionDays)
	if err := cleanup.Schedule(); err != nil {
		log.Fatalf("Failed to schedule retention cleanup: %v", err)
	}

	pages := store
	if pages == nil {
		pages = cache.NewMemoryStore()
	}
	controller := api.NewController(api.NewHandler(repo, lastKnown, saver, pages), hub)

	go func() {
		log.Infof("Starting tracker on %s", cfg.GetListenAddress())
		if err := controller.Run(cfg.GetListenAddress()); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	cleanup.Shutdown()
	hub.Close()
	if writer != nil {
		writer.Close()
	}
	if eventBus != nil {
		eventBus.Close()
	}
}

func getConfig(configFilePath string) (config.Settings, error) {
	if configFilePath == "" {
		return config.Settings{}, fmt.Errorf("config path is not set")
	}

	c, err := config.New(configFilePath)
	if err != nil {
		return c, fmt.Errorf("failed to parse config: %v", err)
	}
	return c, nil
}

func configureLogging(cfg config.Settings) {
	log.SetLevel(cfg.GetLogLevel())

	consoleFmt := &log.TextFormatter{ForceColors: true, FullTimestamp: false}
	log.SetFormatter(consoleFmt)
	log.SetOutput(os.Stdout)

	if cfg.LogFilePath != "" {
		logDir := filepath.Dir(cfg.LogFilePath)
		if _, err := os.Stat(logDir); os.IsNotExist(err) {
			if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
				log.Fatalf("Failed to create log directory: %v", err)
			}
		}

		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    100,
			MaxBackups: 366,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}

		fileFmt := &log.TextFormatter{DisableColors: true, FullTimestamp: true}
		hook := lfshook.NewHook(lfshook.WriterMap{
			log.PanicLevel: lumberjackLogger,
			log.FatalLevel: lumberjackLogger,
			log.ErrorLevel: lumberjackLogger,
			log.WarnLevel:  lumberjackLogger,
			log.InfoLevel:  lumberjackLogger,
			log.DebugLevel: lumberjackLogger,
			log.TraceLevel: lumberjackLogger,
		}, fileFmt)

		log.AddHook(hook)
	}
}

func buildRepository(cfg config.Settings) (*repository.Locations, *conn.Connector, error) {
	var (
		driver  string
		section map[string]string
		src     source.Locations
	)

	if s, ok := cfg.Store["postgresql"]; ok {
		driver, section = "postgres", s
	} else if s, ok := cfg.Store["mysql"]; ok {
		driver, section = "mysql", s
	} else {
		return nil, nil, fmt.Errorf("no postgresql or mysql section in storage config")
	}
	section["driver"] = driver

	dbConn := &conn.Connector{}
	if err := dbConn.Connect(section); err != nil {
		return nil, nil, err
	}

	switch driver {
	case "postgres":
		s := &pgsource.LocationSource{}
		s.Initialize(dbConn)
		src = s
	case "mysql":
		s := &mysqlsource.LocationSource{}
		s.Initialize(dbConn)
		src = s
	}

	return &repository.Locations{Source: src}, dbConn, nil
}

// buildRedisTier connects the distributed cache and the room bridge. Both
// are optional: without a redis section the service runs single-instance.
func buildRedisTier(cfg config.Settings) (cache.Store, broadcast.PubSub) {
	section, ok := cfg.Store["redis"]
	if !ok {
		log.Warn("No redis section in storage config, running with in-process cache only")
		return nil, nil
	}

	store, err := cache.NewRedisStore(section)
	if err != nil {
		log.Warnf("Redis unavailable, running with in-process cache only: %v", err)
		return nil, nil
	}
	return store, broadcast.NewRedisPubSub(store.Client())
}

func buildEventBus(cfg config.Settings) bus.Publisher {
	for kind, section := range cfg.Bus {
		p, err := bus.New(kind, section)
		if err != nil {
			log.Warnf("Event bus %q unavailable, cross-instance publishing disabled: %v", kind, err)
			return nil
		}
		log.Infof("Cross-instance event bus connected (%s)", kind)
		return p
	}
	return nil
}

func sinkOrNil(w *batch.Writer) domain.Sink {
	if w == nil {
		return nil
	}
	return w
}
