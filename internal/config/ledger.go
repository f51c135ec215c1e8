package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LedgerConfig carries school-independent billing defaults. Schools may
// override the per-diem rate and due day on their own row.
type LedgerConfig struct {
	DefaultLateFeePerDiem int64  `mapstructure:"defaultLateFeePerDiem"`
	DefaultDueDay         int    `mapstructure:"defaultDueDay"`
	DefaultCurrency       string `mapstructure:"defaultCurrency"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		DefaultLateFeePerDiem: 500,
		DefaultDueDay:         10,
		DefaultCurrency:       "MXN",
	}
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewStaticLedgerConfigHolder returns a holder that never reloads.
func NewStaticLedgerConfigHolder(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLedgerConfigHolder() (*LedgerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/schoolledger/config")
	v.AddConfigPath("/etc/schoolledger")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	return loadLedgerConfig(v)
}

// LoadLedgerConfigFile reads a single explicit file and watches it.
func LoadLedgerConfigFile(path string) (*LedgerConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadLedgerConfig(v)
}

func loadLedgerConfig(v *viper.Viper) (*LedgerConfigHolder, error) {
	v.SetEnvPrefix("SCHOOLLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.defaultLateFeePerDiem", defaults.DefaultLateFeePerDiem)
	v.SetDefault("ledger.defaultDueDay", defaults.DefaultDueDay)
	v.SetDefault("ledger.defaultCurrency", defaults.DefaultCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return nil, err
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LedgerConfig
		if err := v.UnmarshalKey("ledger", &updated); err != nil {
			log.Printf("[ledger-config] reload failed: %v", err)
			return
		}
		if err := validateLedgerConfig(updated); err != nil {
			log.Printf("[ledger-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[ledger-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	if h == nil {
		return DefaultLedgerConfig()
	}
	return h.current.Load().(LedgerConfig)
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if cfg.DefaultLateFeePerDiem < 0 {
		return errors.New("ledger.defaultLateFeePerDiem cannot be negative")
	}
	if cfg.DefaultDueDay < 1 || cfg.DefaultDueDay > 28 {
		return errors.New("ledger.defaultDueDay must be between 1 and 28")
	}
	if len(strings.TrimSpace(cfg.DefaultCurrency)) != 3 {
		return errors.New("ledger.defaultCurrency must be an ISO-4217 code")
	}
	return nil
}
