package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"multistrat/internal/strategy"
	"multistrat/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Account    AccountConfig    `json:"account"`
	Strategies []StrategyConfig `json:"strategies"`
	Store      StoreConfig      `json:"store"`
	Queue      QueueConfig      `json:"queue"`
	Journal    JournalConfig    `json:"journal"`
	Recon      ReconConfig      `json:"recon"`
	FX         FXConfig         `json:"fx"`
	Snapshot   SnapshotConfig   `json:"snapshot"`
}

// AccountConfig describes the shared brokerage account.
type AccountConfig struct {
	BaseCurrency string `json:"baseCurrency"`
}

// StrategyConfig describes one registered strategy.
type StrategyConfig struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// StoreConfig describes the PostgreSQL connection and write behavior.
type StoreConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	Database      string `json:"database"`
	SSLMode       string `json:"sslMode"`
	ConnString    string `json:"connString"`
	WriteAttempts int    `json:"writeAttempts"`
	RetryBackoff  string `json:"retryBackoff"`
}

// QueueConfig describes the shared event queue.
type QueueConfig struct {
	Capacity int `json:"capacity"`
}

// JournalConfig describes the event journal directory.
type JournalConfig struct {
	Dir        string `json:"dir"`
	FilePrefix string `json:"filePrefix"`
}

// ReconConfig describes the reconciliation cadence.
type ReconConfig struct {
	Interval       string `json:"interval"`
	BrokerCacheTTL string `json:"brokerCacheTtl"`
}

// FXConfig describes FX rate caching.
type FXConfig struct {
	TTL string `json:"ttl"`
}

// SnapshotConfig describes the ledger snapshot location.
type SnapshotConfig struct {
	Path string `json:"path"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	BaseCurrency   string
	Registry       *strategy.Registry
	Postgres       conn.Option
	WriteAttempts  int
	RetryBackoff   time.Duration
	QueueCapacity  int
	JournalDir     string
	JournalPrefix  string
	ReconInterval  time.Duration
	BrokerCacheTTL time.Duration
	FXTTL          time.Duration
	SnapshotPath   string
}

// Load reads a JSON config file and builds the strategy registry.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Strategies)
	if err != nil {
		return Loaded{}, err
	}

	base := cfg.Account.BaseCurrency
	if base == "" {
		base = "USD"
	}

	retryBackoff, err := parseDuration(cfg.Store.RetryBackoff, 0)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid store.retryBackoff: %w", err)
	}
	reconInterval, err := parseDuration(cfg.Recon.Interval, time.Minute)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid recon.interval: %w", err)
	}
	brokerTTL, err := parseDuration(cfg.Recon.BrokerCacheTTL, time.Minute)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid recon.brokerCacheTtl: %w", err)
	}
	fxTTL, err := parseDuration(cfg.FX.TTL, 5*time.Minute)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid fx.ttl: %w", err)
	}

	queueCapacity := cfg.Queue.Capacity
	if queueCapacity <= 0 {
		queueCapacity = 4096
	}

	return Loaded{
		BaseCurrency: base,
		Registry:     registry,
		Postgres: conn.Option{
			Host:       cfg.Store.Host,
			Port:       cfg.Store.Port,
			User:       cfg.Store.User,
			Password:   cfg.Store.Password,
			Database:   cfg.Store.Database,
			SSLMode:    cfg.Store.SSLMode,
			ConnString: cfg.Store.ConnString,
		},
		WriteAttempts:  cfg.Store.WriteAttempts,
		RetryBackoff:   retryBackoff,
		QueueCapacity:  queueCapacity,
		JournalDir:     cfg.Journal.Dir,
		JournalPrefix:  cfg.Journal.FilePrefix,
		ReconInterval:  reconInterval,
		BrokerCacheTTL: brokerTTL,
		FXTTL:          fxTTL,
		SnapshotPath:   cfg.Snapshot.Path,
	}, nil
}

func buildRegistry(specs []StrategyConfig) (*strategy.Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	reg := strategy.NewRegistry()
	for _, s := range specs {
		if err := reg.Register(strategy.Spec{Name: s.Name, Currency: s.Currency}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
