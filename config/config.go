package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"poolescrow/crypto"
	"poolescrow/native/escrow"
)

const (
	DefaultRPCAddress   = ":8080"
	DefaultRateLimit    = 20.0
	DefaultRateBurst    = 40
	DefaultServiceName  = "escrowd"
	DefaultStreamBuffer = 64
	// DefaultFundingLimit is fifteen whole units of 10^24 base units.
	DefaultFundingLimit = "15000000000000000000000000"
	defaultCampaign     = 7 * 24 * time.Hour
)

type Config struct {
	Service ServiceConfig `toml:"Service"`
	Log     LogConfig     `toml:"Log"`
	// DataDir holds the LevelDB state. Empty keeps state in memory.
	DataDir string `toml:"DataDir"`
	// JournalDSN selects the event journal: a sqlite path or a postgres://
	// URL. Empty disables the journal.
	JournalDSN string          `toml:"JournalDSN"`
	RPC        RPCConfig       `toml:"RPC"`
	Telemetry  TelemetryConfig `toml:"Telemetry"`
	Escrow     EscrowConfig    `toml:"Escrow"`
	Genesis    []GenesisAlloc  `toml:"Genesis"`
}

type ServiceConfig struct {
	Name string `toml:"Name"`
	Env  string `toml:"Env"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type RPCConfig struct {
	ListenAddress string `toml:"ListenAddress"`
	// RateLimit is the sustained request rate per client in requests per
	// second; Burst the bucket size.
	RateLimit float64 `toml:"RateLimit"`
	Burst     int     `toml:"Burst"`
	// JWTSecret signs the bearer tokens accepted by POST /escrow/calls. An
	// empty secret disables call submission over HTTP.
	JWTSecret string `toml:"JWTSecret"`
	JWTIssuer string `toml:"JWTIssuer"`
	// AllowedOrigins are the websocket origin patterns of /escrow/stream.
	// Empty accepts same-origin clients only.
	AllowedOrigins []string `toml:"AllowedOrigins"`
	// StreamBuffer bounds the events queued per stream subscriber.
	StreamBuffer int `toml:"StreamBuffer"`
}

// TelemetryConfig controls OTLP trace and metric export.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers is a comma separated key=value list sent with every export.
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
	Metrics     bool    `toml:"Metrics"`
}

// EscrowConfig describes the escrow created on first start. Accounts are
// bech32 identities; empty accounts are derived from fixed labels.
type EscrowConfig struct {
	Account      string    `toml:"Account"`
	DAOFactory   string    `toml:"DAOFactory"`
	TokenFactory string    `toml:"TokenFactory"`
	FundingLimit string    `toml:"FundingLimit"`
	ExpiresAt    time.Time `toml:"ExpiresAt"`
	MetadataURL  string    `toml:"MetadataURL"`
}

// GenesisAlloc credits an account when the state is created.
type GenesisAlloc struct {
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Service.Name) == "" {
		c.Service.Name = DefaultServiceName
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		c.RPC.ListenAddress = DefaultRPCAddress
	}
	if c.RPC.RateLimit == 0 {
		c.RPC.RateLimit = DefaultRateLimit
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = DefaultRateBurst
	}
	if c.RPC.StreamBuffer == 0 {
		c.RPC.StreamBuffer = DefaultStreamBuffer
	}
	if strings.TrimSpace(c.Escrow.FundingLimit) == "" {
		c.Escrow.FundingLimit = DefaultFundingLimit
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{Name: DefaultServiceName, Env: "local"},
		Log:     LogConfig{Level: "info"},
		DataDir: "./escrow-data",
		RPC:     RPCConfig{ListenAddress: DefaultRPCAddress},
		Escrow: EscrowConfig{
			FundingLimit: DefaultFundingLimit,
			ExpiresAt:    time.Now().Add(defaultCampaign).UTC().Truncate(time.Second),
		},
		Genesis: []GenesisAlloc{},
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// EscrowParams resolves the escrow section into engine init parameters.
func (c *Config) EscrowParams() (escrow.InitParams, error) {
	limit, err := parseAmount(c.Escrow.FundingLimit)
	if err != nil {
		return escrow.InitParams{}, fmt.Errorf("escrow: funding limit: %w", err)
	}
	self, err := resolveAccount(c.Escrow.Account, "escrow")
	if err != nil {
		return escrow.InitParams{}, fmt.Errorf("escrow: account: %w", err)
	}
	dao, err := resolveAccount(c.Escrow.DAOFactory, "dao-factory")
	if err != nil {
		return escrow.InitParams{}, fmt.Errorf("escrow: dao factory: %w", err)
	}
	ft, err := resolveAccount(c.Escrow.TokenFactory, "ft-factory")
	if err != nil {
		return escrow.InitParams{}, fmt.Errorf("escrow: token factory: %w", err)
	}
	return escrow.InitParams{
		ExpiresAt:    c.Escrow.ExpiresAt.Unix(),
		FundingLimit: limit,
		Self:         self,
		DAOFactory:   dao,
		TokenFactory: ft,
		MetadataURL:  strings.TrimSpace(c.Escrow.MetadataURL),
	}, nil
}

// Allocation is a parsed genesis credit.
type Allocation struct {
	Account [20]byte
	Amount  *uint256.Int
}

// Allocations parses the genesis section.
func (c *Config) Allocations() ([]Allocation, error) {
	out := make([]Allocation, 0, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.ParseAccount(strings.TrimSpace(alloc.Account))
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: account: %w", i, err)
		}
		amount, err := parseAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: amount: %w", i, err)
		}
		out = append(out, Allocation{Account: addr, Amount: amount})
	}
	return out, nil
}

func resolveAccount(value, label string) ([20]byte, error) {
	if value = strings.TrimSpace(value); value == "" {
		return crypto.DeriveAccount(label), nil
	}
	return crypto.ParseAccount(value)
}

func parseAmount(value string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
