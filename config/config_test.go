package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namedeal.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" {
		t.Fatalf("defaults missing: %+v", cfg)
	}
	if len(cfg.Schedule) != 7 {
		t.Fatalf("schedule entries = %d, want 7", len(cfg.Schedule))
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namedeal.toml")
	contents := `
ListenAddress = ":9000"
DataDir = "/tmp/namedeal"
TreasuryAddress = "0xfefefefefefefefefefefefefefefefefefefefe"

[Log]
Level = "debug"

[Schedule]
[Schedule.sale]
CommissionFactor = 5000
MaxCommission = 100000000
MinPrice = 1000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	if cfg.Schedule["sale"].CommissionFactor != 5000 {
		t.Fatalf("sale factor = %d", cfg.Schedule["sale"].CommissionFactor)
	}
	// Kinds absent from the file get the default schedule.
	if cfg.Schedule["swap"].CommissionFactor != 10_000 {
		t.Fatalf("swap factor = %d", cfg.Schedule["swap"].CommissionFactor)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{TreasuryAddress: "not-hex"}
	applyDefaults(cfg)
	if err := Validate(cfg); err == nil {
		t.Fatalf("bad treasury address must fail")
	}

	cfg = &Config{}
	applyDefaults(cfg)
	cfg.Schedule["sale"] = KindSchedule{CommissionFactor: 200_000}
	if err := Validate(cfg); err == nil {
		t.Fatalf("oversized commission factor must fail")
	}
}

func TestParseAddress(t *testing.T) {
	want := [20]byte{0x01, 0x02}
	got, err := ParseAddress("0x0102000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("address = %x", got)
	}
	if _, err := ParseAddress("0x0102"); err == nil {
		t.Fatalf("short address must fail")
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Fatalf("non-hex address must fail")
	}
}
