package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/usignal/usignal/pkg/httpapi"
	"github.com/usignal/usignal/pkg/server"
)

type healthStatus string

const (
	healthStatusHealthy healthStatus = "healthy"
	healthStatusDown    healthStatus = "down"
)

type componentHealth struct {
	Status       healthStatus `json:"status"`
	ResponseTime string       `json:"responseTime,omitempty"`
	Error        string       `json:"error,omitempty"`
}

type healthResponse struct {
	Status    healthStatus               `json:"status"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]componentHealth `json:"checks"`
}

const healthCheckTimeout = 2 * time.Second

type HealthController struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func NewHealthController(pool *pgxpool.Pool, redisClient *redis.Client) server.Controller {
	return &HealthController{pool: pool, redis: redisClient}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.Get).Methods(http.MethodGet)
}

func (c *HealthController) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := healthResponse{
		Status:    healthStatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]componentHealth{},
	}

	if c.pool != nil {
		response.Checks["database"] = checkComponent(func() error { return c.pool.Ping(ctx) })
	}
	if c.redis != nil {
		response.Checks["redis"] = checkComponent(func() error { return c.redis.Ping(ctx).Err() })
	}

	status := http.StatusOK
	for _, check := range response.Checks {
		if check.Status == healthStatusDown {
			response.Status = healthStatusDown
			status = http.StatusServiceUnavailable
			break
		}
	}

	_ = httpapi.WriteJSON(w, status, response)
}

func checkComponent(ping func() error) componentHealth {
	start := time.Now()
	if err := ping(); err != nil {
		return componentHealth{Status: healthStatusDown, Error: err.Error()}
	}
	return componentHealth{
		Status:       healthStatusHealthy,
		ResponseTime: time.Since(start).String(),
	}
}
