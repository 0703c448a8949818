// README: Entry point; loads config, wires stores and services, serves HTTP until signalled.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ridehail/internal/config"
	httptransport "ridehail/internal/http"
	"ridehail/internal/http/handlers"
	"ridehail/internal/infra"
	"ridehail/internal/maps"
	"ridehail/internal/modules/booking"
	"ridehail/internal/modules/events"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/modules/triphistory"
	"ridehail/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.App.Env, cfg.App.LogLevel, "ridehail")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ridehail-api stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	bookingStore, tripStore, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	if cfg.Redis.CacheTTL > 0 && cfg.Store.Driver != "memory" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		bookingStore = booking.NewCachedStore(bookingStore, rdb, cfg.Redis.CacheTTL, logger.Named("cache"))
	}

	publisher, err := newPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		return err
	}
	defer publisher.Close()

	pricingSvc := pricing.NewService(types.CurrencyINR)
	tripSvc := triphistory.NewService(tripStore, logger.Named("trips"),
		triphistory.WithStoreTimeout(cfg.Store.Timeout))
	bookingSvc := booking.NewService(bookingStore, pricingSvc,
		booking.WithPublisher(publisher),
		booking.WithTripRecorder(tripSvc),
		booking.WithLogger(logger.Named("booking")),
		booking.WithStoreTimeout(cfg.Store.Timeout),
		booking.WithFeedLimits(cfg.Feed.DefaultLimit, cfg.Feed.MaxLimit),
	)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	var geocoder handlers.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		geocoder = g
	} else {
		logger.Warn("maps api key not set; clients must send coordinates")
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Booking:  bookingSvc,
		Pricing:  pricingSvc,
		Trips:    tripSvc,
		Verifier: verifier,
		Geocoder: geocoder,
	}, logger.Named("http"))

	server := httptransport.NewServer(httptransport.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router, logger)
	return server.Serve(ctx)
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (booking.Store, triphistory.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := infra.NewDB(ctx, cfg.DB.DSN, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return booking.NewPostgresStore(db), triphistory.NewPostgresStore(db), db.Close, nil
	case "mongo":
		client, err := infra.NewMongo(ctx, cfg.Mongo.URI, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		db := client.Database(cfg.Mongo.Database)
		bs := booking.NewMongoStore(db)
		ts := triphistory.NewMongoStore(db)
		if err := bs.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("ensure booking indexes: %w", err)
		}
		if err := ts.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("ensure trip indexes: %w", err)
		}
		return bs, ts, closeFn, nil
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return booking.NewMemoryStore(), triphistory.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "firebase" {
		v, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		return v, nil
	}
	return infra.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (events.Fanout, error) {
	var out events.Fanout
	if len(cfg.Kafka.Brokers) > 0 {
		out = append(out, events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
	} else {
		out = append(out, events.NewLogPublisher(logger))
	}
	if cfg.Notify.FCM {
		fcm, err := events.NewFCMPublisher(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, logger.Named("fcm"))
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, fcm)
	}
	return out, nil
}
