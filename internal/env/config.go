package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/oocsi/client"
)

// Config is read from OOCSI_* environment variables, with .env.local
// consulted first during development. Command line flags override it.
type Config struct {
	Name      string `env:"OOCSI_NAME"`
	Host      string `env:"OOCSI_HOST,default=localhost"`
	Port      int    `env:"OOCSI_PORT,default=4444"`
	Reconnect bool   `env:"OOCSI_RECONNECT,default=true"`
	Multicast bool   `env:"OOCSI_MULTICAST"`
	LogLevel  string `env:"OOCSI_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"OOCSI_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads the configuration through lookuper, which lets tests
// supply their own environment.
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}

// ClientOptions maps the configuration onto client options.
func (c *Config) ClientOptions(log *zap.Logger) client.Options {
	return client.Options{
		Name:      c.Name,
		Reconnect: c.Reconnect,
		Log:       log,
	}
}
