package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Juju          JujuConfig           `koanf:"juju" validate:"required"`
	Auth          AuthConfig           `koanf:"auth"`
	Database      *DatabaseConfig      `koanf:"database"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string `koanf:"port" validate:"required"`
	RedirectPort string `koanf:"redirect_port"`
	ReadTimeout  int    `koanf:"read_timeout"`
	WriteTimeout int    `koanf:"write_timeout"`
	IdleTimeout  int    `koanf:"idle_timeout"`
	GuiRoot      string `koanf:"gui_root" validate:"required"`
	ServeTests   string `koanf:"serve_tests"`
	TLSCert      string `koanf:"tls_cert"`
	TLSKey       string `koanf:"tls_key"`
}

// JujuConfig locates the Juju API server the GUI server proxies to.
type JujuConfig struct {
	APIURL     string `koanf:"api_url" validate:"required"`
	APIVersion string `koanf:"api_version" validate:"required,oneof=go python"`
	// APIUsername and APIPassword are the server's own credentials, used
	// when importing bundles on behalf of GUI users.
	APIUsername string `koanf:"api_username"`
	APIPassword string `koanf:"api_password"`
	// InsecureAPI skips certificate verification towards the Juju API.
	// Juju environments commonly run with self-signed certificates.
	InsecureAPI bool `koanf:"insecure_api"`
}

// AuthConfig configures session tokens minted after a successful API login.
type AuthConfig struct {
	TokenSecret string `koanf:"token_secret"`
	TokenTTL    int    `koanf:"token_ttl"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time"`
}

// LoadConfig loads the configuration from environment variables using koanf.
func LoadConfig() (mainConfig *Config, err error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Local development reads variables from a .env file when present.
	_ = godotenv.Load()

	k := koanf.New(".")
	err = k.Load(env.Provider("GUISERVER_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GUISERVER_")), "__", ".")
	}), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load initial env variables")
	}

	mainConfig = &Config{}
	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not unmarshal mainconfig")
	}

	validate := validator.New()
	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not validate the struct")
	}

	// set default observability config if not provided
	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	mainConfig.Observability.ServiceName = "guiserver"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	err = mainConfig.Observability.Validate()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid observability config")
	}

	return
}
