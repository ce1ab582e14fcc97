package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes environment overrides, e.g. WPPCRM_API_TOKEN.
const EnvPrefix = "WPPCRM"

// Profile is the per-profile config.toml.
type Profile struct {
	CompanyID string         `toml:"company_id" envconfig:"COMPANY_ID"`
	LogLevel  string         `toml:"log_level" envconfig:"LOG_LEVEL"`
	Operator  Operator       `toml:"operator" envconfig:"OPERATOR"`
	API       API            `toml:"api" envconfig:"API"`
	Cache     Cache          `toml:"cache" envconfig:"CACHE"`
	Sync      Sync           `toml:"sync" envconfig:"SYNC"`
	Ledger    Ledger         `toml:"ledger" envconfig:"LEDGER"`
	Metrics   Metrics        `toml:"metrics" envconfig:"METRICS"`
	Phones    map[string]int `toml:"phones" envconfig:"PHONES"`
}

// Operator is the identity the console acts as.
type Operator struct {
	Name       string `toml:"name" envconfig:"NAME"`
	Role       string `toml:"role" envconfig:"ROLE"`
	PhoneIndex *int   `toml:"phone_index" envconfig:"PHONE_INDEX"`
}

// API configures the REST write surface.
type API struct {
	BaseURL string   `toml:"base_url" envconfig:"BASE_URL"`
	Token   string   `toml:"token" envconfig:"TOKEN"`
	Timeout Duration `toml:"timeout" envconfig:"TIMEOUT"`
	Rate    float64  `toml:"rate" envconfig:"RATE"`
	Burst   int      `toml:"burst" envconfig:"BURST"`
}

// Cache configures the local conversation cache.
type Cache struct {
	TTL           Duration `toml:"ttl" envconfig:"TTL"`
	MaxMessages   int      `toml:"max_messages" envconfig:"MAX_MESSAGES"`
	EntryLimit    int      `toml:"entry_limit" envconfig:"ENTRY_LIMIT"`
	TotalLimit    int      `toml:"total_limit" envconfig:"TOTAL_LIMIT"`
	Quota         int      `toml:"quota" envconfig:"QUOTA"`
	SweepInterval Duration `toml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
}

// Sync configures conversation loading.
type Sync struct {
	RefetchRetries  uint64   `toml:"refetch_retries" envconfig:"REFETCH_RETRIES"`
	RefetchInterval Duration `toml:"refetch_interval" envconfig:"REFETCH_INTERVAL"`
}

// Ledger configures the assignment ledger.
type Ledger struct {
	ReconcileInterval Duration `toml:"reconcile_interval" envconfig:"RECONCILE_INTERVAL"`
	Notify            bool     `toml:"notify" envconfig:"NOTIFY"`
}

// Metrics configures the Prometheus listener. An empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen" envconfig:"LISTEN"`
}

// DefaultProfile returns a profile with every default applied.
func DefaultProfile() *Profile {
	p := &Profile{Ledger: Ledger{Notify: true}}
	p.applyDefaults()
	return p
}

func (p *Profile) applyDefaults() {
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
	if p.Operator.Role == "" {
		p.Operator.Role = "agent"
	}
	p.API.Timeout = orDefault(p.API.Timeout, 30*time.Second)
	if p.API.Rate == 0 {
		p.API.Rate = 5
	}
	if p.API.Burst == 0 {
		p.API.Burst = 10
	}
	p.Cache.TTL = orDefault(p.Cache.TTL, 30*time.Minute)
	if p.Cache.MaxMessages == 0 {
		p.Cache.MaxMessages = 100
	}
	if p.Cache.EntryLimit == 0 {
		p.Cache.EntryLimit = 2 << 20
	}
	if p.Cache.TotalLimit == 0 {
		p.Cache.TotalLimit = 5 << 20
	}
	p.Cache.SweepInterval = orDefault(p.Cache.SweepInterval, 5*time.Minute)
	if p.Sync.RefetchRetries == 0 {
		p.Sync.RefetchRetries = 5
	}
	p.Sync.RefetchInterval = orDefault(p.Sync.RefetchInterval, 200*time.Millisecond)
	p.Ledger.ReconcileInterval = orDefault(p.Ledger.ReconcileInterval, 10*time.Minute)
}

// Validate reports settings the daemon cannot run without.
func (p *Profile) Validate() error {
	var errs []error
	if p.CompanyID == "" {
		errs = append(errs, errors.New("company_id is required"))
	}
	if p.Operator.Name == "" {
		errs = append(errs, errors.New("operator.name is required"))
	}
	if p.Cache.EntryLimit > p.Cache.TotalLimit {
		errs = append(errs, fmt.Errorf("cache.entry_limit %d exceeds cache.total_limit %d", p.Cache.EntryLimit, p.Cache.TotalLimit))
	}
	return errors.Join(errs...)
}

// LoadProfile reads the profile file at path, overlays WPPCRM_* environment
// variables and fills defaults. A missing file yields the defaults plus the
// environment.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{Ledger: Ledger{Notify: true}}
	if _, err := toml.DecodeFile(path, p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := envconfig.Process(EnvPrefix, p); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	p.applyDefaults()
	return p, nil
}
