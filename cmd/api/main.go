package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/usignal/usignal/migrations"
	"github.com/usignal/usignal/modules/notifications/infrastructure/persistence"
	"github.com/usignal/usignal/modules/notifications/presentation/controllers"
	"github.com/usignal/usignal/modules/notifications/services"
	"github.com/usignal/usignal/pkg/compiler"
	"github.com/usignal/usignal/pkg/configuration"
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

	if err := runMigrations(conf); err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := pgxpool.New(ctx, conf.Database.ConnectionString())
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr(),
		Password: conf.Redis.Password,
	})
	defer redisClient.Close()

	dispatchQueue, err := queue.NewRedisQueue(redisClient, conf.Redis.KeyPrefix+conf.Queue.Name, queue.Options{
		Concurrency: conf.Queue.Concurrency,
		MaxAttempts: conf.Queue.MaxAttempts,
		Logger:      logger.WithField("component", "queue"),
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create dispatch queue")
	}

	notificationRepo := persistence.NewNotificationRepository()
	subscriberRepo := persistence.NewSubscriberRepository()

	sendInApp := services.NewSendInAppService(services.SendInAppServiceConfig{
		NotificationRepo:    notificationRepo,
		SubscriberRepo:      subscriberRepo,
		MessageRepo:         persistence.NewMessageRepository(),
		ExecutionDetailRepo: persistence.NewExecutionDetailRepository(),
		NotificationLogRepo: persistence.NewNotificationLogRepository(),
		Compiler:            compiler.New(),
		Queue:               dispatchQueue,
		Logger:              logger,
	})
	trigger := services.NewTriggerEventService(notificationRepo, subscriberRepo, sendInApp)

	apiControllers := []server.Controller{
		controllers.NewEventsController(controllers.EventsControllerConfig{
			Service: trigger,
		}),
		controllers.NewHealthController(pool, redisClient),
	}
	if conf.Prometheus.Enabled {
		apiControllers = append(apiControllers, metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	srv := server.NewHTTPServer(
		apiControllers,
		[]mux.MiddlewareFunc{
			middleware.WithLogger(logger),
			middleware.ProvidePool(pool),
		},
		http.NotFoundHandler(),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}),
	)

	logger.Infof("api listening on %s", conf.SocketAddress())
	if err := srv.Start(conf.SocketAddress()); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func runMigrations(conf *configuration.Configuration) error {
	db, err := sql.Open("pgx", conf.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
