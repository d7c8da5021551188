package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/usignal/usignal/internal/gateway"
	"github.com/usignal/usignal/modules/notifications/presentation/controllers"
	"github.com/usignal/usignal/pkg/backplane"
	"github.com/usignal/usignal/pkg/configuration"
	"github.com/usignal/usignal/pkg/eventbus"
	"github.com/usignal/usignal/pkg/metrics"
	"github.com/usignal/usignal/pkg/middleware"
	"github.com/usignal/usignal/pkg/queue"
	"github.com/usignal/usignal/pkg/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The subscribe client must be a separate connection: once subscribed it
	// cannot issue regular commands.
	pubClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr(),
		Password: conf.Redis.Password,
	})
	defer pubClient.Close()
	subClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr(),
		Password: conf.Redis.Password,
	})
	defer subClient.Close()

	plane, err := backplane.NewRedisBackplane(
		pubClient, subClient, conf.Redis.KeyPrefix,
		logger.WithField("component", "backplane"),
	)
	if err != nil {
		logger.WithError(err).Fatal("failed to create backplane")
	}

	g, err := gateway.New(gateway.Config{
		Backplane: plane,
		EventBus:  eventbus.NewEventPublisher(logger),
		Logger:    logger,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create gateway")
	}

	if err := plane.Start(ctx, g); err != nil {
		logger.WithError(err).Fatal("failed to start backplane")
	}

	dispatchQueue, err := queue.NewRedisQueue(pubClient, conf.Redis.KeyPrefix+conf.Queue.Name, queue.Options{
		Concurrency: conf.Queue.Concurrency,
		MaxAttempts: conf.Queue.MaxAttempts,
		Logger:      logger.WithField("component", "queue"),
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create dispatch queue")
	}

	go func() {
		if err := dispatchQueue.Process(ctx, g.HandleJob); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("queue processing stopped")
		}
	}()

	gatewayControllers := []server.Controller{
		g,
		controllers.NewHealthController(nil, pubClient),
	}
	if conf.Prometheus.Enabled {
		gatewayControllers = append(gatewayControllers, metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	srv := server.NewHTTPServer(
		gatewayControllers,
		[]mux.MiddlewareFunc{middleware.WithLogger(logger)},
		http.NotFoundHandler(),
		nil,
	)

	logger.Infof("gateway listening on %s", conf.GatewayAddress())
	if err := srv.Start(conf.GatewayAddress()); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
