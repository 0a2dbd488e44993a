// Package config loads the process configuration from COINCONN_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/infra/keychain"
	"github.com/gabapcia/coinconn/internal/pkg/validator"

	"github.com/kelseyhightower/envconfig"
)

const Prefix = "COINCONN"

// ErrMalformedServers is returned when COINCONN_SERVERS cannot be parsed.
var ErrMalformedServers = errors.New("malformed server list")

// ServerList decodes "coin=url,url;coin=url" into registry entries, keeping
// the declared order.
type ServerList []connregistry.CoinServers

func (l *ServerList) Decode(value string) error {
	var list ServerList
	for _, group := range strings.Split(value, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		coin, rawURLs, ok := strings.Cut(group, "=")
		coin = strings.TrimSpace(coin)
		if !ok || coin == "" {
			return fmt.Errorf("%w: %q", ErrMalformedServers, group)
		}

		var endpoints []string
		for _, u := range strings.Split(rawURLs, ",") {
			if u = strings.TrimSpace(u); u != "" {
				endpoints = append(endpoints, u)
			}
		}
		if len(endpoints) == 0 {
			return fmt.Errorf("%w: no endpoint for %s", ErrMalformedServers, coin)
		}

		list = append(list, connregistry.CoinServers{
			Currency:  connregistry.CurrencyID(coin),
			Endpoints: endpoints,
		})
	}

	*l = list
	return nil
}

type Redis struct {
	Addr     string
	Username string
	Password string
	DB       int `validate:"min=0"`
}

// Enabled reports whether activity should be published to Redis.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type Config struct {
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFile        string `envconfig:"LOG_FILE"`
	LogFileSizeKB  int64  `envconfig:"LOG_FILE_SIZE_KB" default:"10240" validate:"min=1"`
	LogFileMaxRoll int    `envconfig:"LOG_FILE_MAX_ROLLS" default:"3" validate:"min=0"`

	Servers      ServerList        `envconfig:"SERVERS" required:"true" validate:"min=1,dive"`
	XPubs        map[string]string `envconfig:"XPUBS"`
	Networks     map[string]string `envconfig:"NETWORKS"`
	AddressTypes map[string]string `envconfig:"ADDRESS_TYPES"`

	WindowSize      uint32        `envconfig:"WINDOW_SIZE" default:"20" validate:"min=1"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s" validate:"gt=0"`
	ReconnectDelay  time.Duration `envconfig:"RECONNECT_DELAY" default:"5s" validate:"gt=0"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"10s" validate:"gt=0"`

	ClientName  string `envconfig:"CLIENT_NAME" default:"coinconn" validate:"required"`
	InsecureTLS bool   `envconfig:"TLS_INSECURE"`

	Redis Redis `envconfig:"REDIS"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED"`
	ServiceName      string `envconfig:"SERVICE_NAME" default:"coinconn" validate:"required"`
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, err
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Accounts returns one keychain account per configured extended key, sorted
// by currency. Networks default to mainnet.
func (c Config) Accounts() []keychain.Account {
	accounts := make([]keychain.Account, 0, len(c.XPubs))
	for coin, xpub := range c.XPubs {
		network := c.Networks[coin]
		if network == "" {
			network = keychain.NetworkMainnet
		}

		accounts = append(accounts, keychain.Account{
			Currency:    connregistry.CurrencyID(coin),
			ExtendedKey: xpub,
			Network:     network,
			AddressType: keychain.AddressType(c.AddressTypes[coin]),
		})
	}

	slices.SortFunc(accounts, func(a, b keychain.Account) int {
		return strings.Compare(string(a.Currency), string(b.Currency))
	})
	return accounts
}
