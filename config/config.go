package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration. Commission schedules are keyed by
// deal kind name (sale, auction, offer and their multi variants, swap).
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	TreasuryAddress      string `toml:"TreasuryAddress"`
	VoucherSignerAddress string `toml:"VoucherSignerAddress"`
	VaultCoinAddress     string `toml:"VaultCoinAddress"`
	VaultTokenAddress    string `toml:"VaultTokenAddress"`
	JWTSecret            string `toml:"JWTSecret"`
	RequestsPerMinute    int    `toml:"RequestsPerMinute"`

	Log      LogConfig               `toml:"Log"`
	Schedule map[string]KindSchedule `toml:"Schedule"`
}

// LogConfig controls structured log output and file rotation.
type LogConfig struct {
	Level      string `toml:"Level"`
	Format     string `toml:"Format"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// KindSchedule is the dispatcher's per-kind deployment policy: the commission
// snapshot written into new deals and the minimum price accepted at deploy
// time.
type KindSchedule struct {
	CommissionFactor uint64 `toml:"CommissionFactor"`
	MaxCommission    int64  `toml:"MaxCommission"`
	MinPrice         int64  `toml:"MinPrice"`
}

var kindNames = []string{"sale", "multi_sale", "auction", "multi_auction", "offer", "multi_offer", "swap"}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./namedeal-data"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Schedule == nil {
		cfg.Schedule = defaultSchedule()
	}
	for _, name := range kindNames {
		if _, ok := cfg.Schedule[name]; !ok {
			cfg.Schedule[name] = defaultKindSchedule()
		}
	}
}

func defaultKindSchedule() KindSchedule {
	return KindSchedule{
		CommissionFactor: 10_000,
		MaxCommission:    0,
		MinPrice:         1,
	}
}

func defaultSchedule() map[string]KindSchedule {
	schedule := make(map[string]KindSchedule, len(kindNames))
	for _, name := range kindNames {
		schedule[name] = defaultKindSchedule()
	}
	return schedule
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// Validate checks the configuration for values that cannot back a running
// daemon.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"TreasuryAddress", cfg.TreasuryAddress},
		{"VaultCoinAddress", cfg.VaultCoinAddress},
		{"VaultTokenAddress", cfg.VaultTokenAddress},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := ParseAddress(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	if strings.TrimSpace(cfg.VoucherSignerAddress) != "" {
		if _, err := ParseAddress(cfg.VoucherSignerAddress); err != nil {
			return fmt.Errorf("config: VoucherSignerAddress: %w", err)
		}
	}
	for name, schedule := range cfg.Schedule {
		if schedule.CommissionFactor > 100_000 {
			return fmt.Errorf("config: schedule %s: commission factor out of range", name)
		}
		if schedule.MaxCommission < 0 {
			return fmt.Errorf("config: schedule %s: negative commission cap", name)
		}
		if schedule.MinPrice < 0 {
			return fmt.Errorf("config: schedule %s: negative minimum price", name)
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q: want 20 bytes, got %d", value, len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
