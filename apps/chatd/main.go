package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/gateway"
	"github.com/mahaj/chatcore/pkg/presence"
	"github.com/mahaj/chatcore/pkg/snowflake"
	"github.com/mahaj/chatcore/pkg/storage"
	"github.com/mahaj/chatcore/pkg/storage/redisstore"
	"github.com/mahaj/chatcore/pkg/storage/scylla"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	var store storage.Store
	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		store = redisstore.New(rdb, logger)
	case config.BackendScylla:
		node, err := snowflake.NewNode(cfg.NodeID)
		if err != nil {
			logger.Fatal("init snowflake node", zap.Error(err))
		}
		scyllaStore, err := scylla.New(cfg.ScyllaHosts, cfg.ScyllaKeyspace, node, logger)
		if err != nil {
			logger.Fatal("connect scylla", zap.Error(err))
		}
		defer scyllaStore.Close()
		store = scyllaStore
	}

	emitter := bus.NewKafkaEmitter(cfg.KafkaBrokers, logger)
	defer emitter.Close()

	coordinator := chat.NewCoordinator(store, emitter, logger)
	tracker := presence.NewTracker(store, emitter, logger, cfg.PresenceTimeout)
	defer tracker.Stop()

	hub := gateway.NewHub(coordinator, tracker, []byte(cfg.JWTSecret), logger)
	go hub.Run()

	api := &API{coordinator: coordinator, tracker: tracker, logger: logger}

	http.HandleFunc("/ws", hub.ServeWS)
	http.Handle("/history", CORSMiddleware(http.HandlerFunc(api.History)))
	http.Handle("/presence", CORSMiddleware(http.HandlerFunc(api.Presence)))
	http.Handle("/users", CORSMiddleware(http.HandlerFunc(api.User)))
	http.Handle("/channels/", CORSMiddleware(http.HandlerFunc(api.Members)))
	http.Handle("/metrics", promhttp.Handler())

	logger.Info("chatd starting", zap.String("addr", cfg.Addr), zap.String("backend", cfg.Backend))
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
