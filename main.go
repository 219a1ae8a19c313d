package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocppj"
	"github.com/lorenzodonini/ocpp-go/ws"
	"github.com/sirupsen/logrus"

	"charge_point/actions"
	"charge_point/audit"
	"charge_point/catalog"
	"charge_point/config"
	"charge_point/httpapi"
	"charge_point/interactive"
	"charge_point/notifier"
	mqttnotifier "charge_point/notifier/mqtt"
	natsnotifier "charge_point/notifier/nats"
	"charge_point/ocppclient"
)

const (
	BOOT_NOTIFICATION      = "boot.notification"
	AUTHORIZE              = "authorize"
	START_TRANSACTION      = "start.transaction"
	STOP_TRANSACTION       = "stop.transaction"
	HEARTBEAT              = "heartbeat"
	STATUS_NOTIFICATION    = "status.notification"
	GET_LOGS               = "get.logs"
	GET_PENDING            = "get.pending"
	GET_STATE              = "get.state"
	GET_COMPOSITE_LIMIT    = "get.composite.limit"
	GET_CHARGING_PROFILES  = "get.charging.profiles"
	SET_CHARGING_PROFILE   = "set.charging.profile"
	CLEAR_CHARGING_PROFILE = "clear.charging.profile"
	GET_LOCAL_LIST         = "get.local.list"
	CLEAR_CACHE            = "clear.cache"
)

type notifierService interface {
	SetChannel(chan notifier.Notification)
	Start() error
	Stop()
}

var log *logrus.Logger

func registerActions(router *notifier.CommandRouter, registry *Registry) {
	coreProfileActions := actions.InitializeCoreProfileActions(registry)
	smartChargingProfileActions := actions.InitializeSmartChargingProfileActions(registry)
	localAuthProfileActions := actions.InitializeLocalAuthProfileActions(registry)

	router.AddHandler(BOOT_NOTIFICATION, coreProfileActions.BootNotification)
	router.AddHandler(AUTHORIZE, coreProfileActions.Authorize)
	router.AddHandler(START_TRANSACTION, coreProfileActions.StartTransaction)
	router.AddHandler(STOP_TRANSACTION, coreProfileActions.StopTransaction)
	router.AddHandler(HEARTBEAT, coreProfileActions.Heartbeat)
	router.AddHandler(STATUS_NOTIFICATION, coreProfileActions.StatusNotification)
	router.AddHandler(GET_LOGS, coreProfileActions.GetLogs)
	router.AddHandler(GET_PENDING, coreProfileActions.GetPending)
	router.AddHandler(GET_STATE, coreProfileActions.GetState)

	router.AddHandler(GET_COMPOSITE_LIMIT, smartChargingProfileActions.GetCompositeLimit)
	router.AddHandler(GET_CHARGING_PROFILES, smartChargingProfileActions.GetChargingProfiles)
	router.AddHandler(SET_CHARGING_PROFILE, smartChargingProfileActions.SetChargingProfile)
	router.AddHandler(CLEAR_CHARGING_PROFILE, smartChargingProfileActions.ClearChargingProfile)

	router.AddHandler(GET_LOCAL_LIST, localAuthProfileActions.GetLocalList)
	router.AddHandler(CLEAR_CACHE, localAuthProfileActions.ClearCache)
}

func setupSinks(ctx context.Context, cfg config.Config) ([]ocppclient.LogSink, func()) {
	var (
		sinks   []ocppclient.LogSink
		closers []func()
	)
	if cfg.Audit.File != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.File)
		if err != nil {
			log.Fatalf("couldn't open audit file %v: %v", cfg.Audit.File, err)
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, func() {
			if err := fileSink.Close(); err != nil {
				log.Errorf("close audit file: %v", err)
			}
		})
	}
	if cfg.Audit.DatabaseURL != "" {
		pgSink, err := audit.ConnectPostgres(ctx, cfg.Audit.DatabaseURL, log.WithField("component", "audit"))
		if err != nil {
			log.Fatalf("couldn't connect audit database: %v", err)
		}
		sinks = append(sinks, pgSink)
		closers = append(closers, pgSink.Close)
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("couldn't load configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	log.SetLevel(level)
	ocppj.SetLogger(log)
	ws.SetLogger(log.WithField("logger", "websocket"))

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("couldn't load catalog: %v", err)
	}
	stations, err := cat.Select(cfg.Stations)
	if err != nil {
		log.Fatalf("couldn't select stations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks := setupSinks(ctx, cfg)
	defer closeSinks()

	registry := NewRegistry()
	router := notifier.NewCommandRouter()
	router.SetTimeout(cfg.Notifier.Timeout)
	log.Printf("Esperar respuesta de las solicitudes: %v", router.Timeout().String())
	registerActions(router, registry)

	var notifiers []notifierService
	if cfg.Nats.Enabled {
		notifiers = append(notifiers, natsnotifier.New(cfg.Nats.URL, router))
	}
	if cfg.MQTT.Enabled {
		notifiers = append(notifiers, mqttnotifier.New(mqttnotifier.Options{
			Broker:       cfg.MQTT.Broker,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			CommandTopic: cfg.MQTT.CommandTopic,
			EventTopic:   cfg.MQTT.EventTopic,
		}, router))
	}
	for _, n := range notifiers {
		n.SetChannel(registry.NotificationChannel())
		if err := n.Start(); err != nil {
			log.Fatalf("couldn't start notifier: %v", err)
		}
		defer n.Stop()
	}

	for _, station := range stations {
		cp := NewChargePoint(station, chargePointOptions{
			CentralSystemURL: cfg.CentralSystem.URL,
			MeterInterval:    cfg.Metering.Interval,
			Sinks:            sinks,
			Events:           registry.Notify,
			Log:              log,
		})
		if err := registry.Add(cp); err != nil {
			log.Error(err)
			continue
		}
		if err := cp.Start(); err != nil {
			logDefault(cp.Name(), "connect").Errorf("couldn't connect: %v", err)
		}
	}
	defer registry.StopAll()

	if cfg.HTTP.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           httpapi.NewServer(registry, log.WithField("component", "http")).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("http api listening on %v", cfg.HTTP.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http api: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Interactive {
		console, err := interactive.New(registry, router)
		if err != nil {
			log.Fatalf("couldn't start console: %v", err)
		}
		log.SetOutput(console.Stdout())
		go console.Run(ctx, stop)
	}

	<-ctx.Done()
	log.Info("stopping charge points")
}

func init() {
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
}
