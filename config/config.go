package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`

	PostgresHost     string `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB" required:"true"`

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisTokenDB   int    `envconfig:"REDIS_TOKEN_DB" default:"0"`
	RedisAdapterDB int    `envconfig:"REDIS_ADAPTER_DB" default:"1"`

	RabbitMQHost        string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	RabbitMQPort        string `envconfig:"RABBITMQ_PORT" default:"5672"`
	RabbitMQUser        string `envconfig:"RABBITMQ_USER" default:"guest"`
	RabbitMQPassword    string `envconfig:"RABBITMQ_PASSWORD" default:"guest"`
	RabbitMQNotifyQueue string `envconfig:"RABBITMQ_NOTIFY_QUEUE" default:"notifications"`
	RabbitMQEventsQueue string `envconfig:"RABBITMQ_EVENTS_QUEUE" default:"messenger"`

	JWTAccessKey     string        `envconfig:"JWT_ACCESS_KEY" required:"true"`
	JWTRefreshKey    string        `envconfig:"JWT_REFRESH_KEY" required:"true"`
	JWTAccessExpire  time.Duration `envconfig:"JWT_ACCESS_EXPIRE" default:"15m"`
	JWTRefreshExpire time.Duration `envconfig:"JWT_REFRESH_EXPIRE" default:"720h"`
	OtpIssuer        string        `envconfig:"OTP_ISSUER" default:"collab"`
	CasbinModel      string        `envconfig:"CASBIN_MODEL" default:"config/restful_rbac_model.conf"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	SocketIODebug bool   `envconfig:"SOCKETIO_DEBUG" default:"false"`

	MaxMessageLength int           `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	TypingTimeout    time.Duration `envconfig:"TYPING_TIMEOUT" default:"3s"`
	OutboundBuffer   int           `envconfig:"OUTBOUND_BUFFER" default:"64"`
	InboundRate      float64       `envconfig:"INBOUND_RATE" default:"20"`
	InboundBurst     int           `envconfig:"INBOUND_BURST" default:"40"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDB,
	)
}

func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitMQUser,
		c.RabbitMQPassword,
		c.RabbitMQHost,
		c.RabbitMQPort,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
