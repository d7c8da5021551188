package configuration

import (
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/usignal/usignal/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

// Use returns the process-wide configuration, loading it on first call.
func Use() *Configuration {
	return singleton()
}

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Name     string `env:"DB_NAME" envDefault:"usignal"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

// RedisOptions configures both the dispatch queue and the fan-out backplane.
// KeyPrefix may be empty: an empty prefix means the bare default namespace.
// Every process sharing the backplane must be configured with the same prefix,
// or cross-process messages will not be recognized.
type RedisOptions struct {
	Host      string `env:"REDIS_HOST" envDefault:"localhost"`
	Port      string `env:"REDIS_PORT" envDefault:"6379"`
	Password  string `env:"REDIS_PASSWORD"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:""`
}

func (r *RedisOptions) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type QueueOptions struct {
	Name        string `env:"WS_QUEUE_NAME" envDefault:"ws_socket_queue"`
	Concurrency int    `env:"WS_QUEUE_CONCURRENCY" envDefault:"5"`
	MaxAttempts int    `env:"WS_QUEUE_MAX_ATTEMPTS" envDefault:"25"`
}

func (q *QueueOptions) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("queue Name must not be empty")
	}
	if q.Concurrency < 1 {
		return fmt.Errorf("queue Concurrency must be positive, got %d", q.Concurrency)
	}
	if q.MaxAttempts < 1 {
		return fmt.Errorf("queue MaxAttempts must be positive, got %d", q.MaxAttempts)
	}
	return nil
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type Configuration struct {
	Database   DatabaseOptions
	Redis      RedisOptions
	Queue      QueueOptions
	Prometheus PrometheusOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GatewayPort      int    `env:"GATEWAY_PORT" envDefault:"3201"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`

	logger *logrus.Logger
}

func (c *Configuration) load(envFiles []string) error {
	if _, err := LoadEnv(envFiles); err != nil {
		return err
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.GoAppEnvironment == Production {
		c.logger = logging.JSONLogger(level)
	} else {
		c.logger = logging.ConsoleLogger(level)
	}
	return nil
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) SocketAddress() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

func (c *Configuration) GatewayAddress() string {
	return fmt.Sprintf(":%d", c.GatewayPort)
}
