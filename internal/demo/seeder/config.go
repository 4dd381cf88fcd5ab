package seeder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	// DSN is a go-sql-driver/mysql DSN or a PostgreSQL URL, depending on Driver.
	DSN           string
	Products      int
	Orders        int
	Invoices      int
	Purchases     int
	CashMovements int
	// Days is how far back generated dates reach.
	Days  int
	Reset bool
	Seed  int64
}

func DefaultConfig() Config {
	return Config{
		Driver:        DriverMySQL,
		DSN:           "kpisync:kpisync@tcp(localhost:3306)/erp?parseTime=true",
		Products:      40,
		Orders:        300,
		Invoices:      250,
		Purchases:     120,
		CashMovements: 500,
		Days:          365,
		Reset:         true,
		Seed:          time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	applied := []error{
		applyString(lookup, "KPISYNC_DEMO_DRIVER", &cfg.Driver),
		applyString(lookup, "KPISYNC_DEMO_DSN", &cfg.DSN),
		applyInt(lookup, "KPISYNC_DEMO_PRODUCTS", &cfg.Products),
		applyInt(lookup, "KPISYNC_DEMO_ORDERS", &cfg.Orders),
		applyInt(lookup, "KPISYNC_DEMO_INVOICES", &cfg.Invoices),
		applyInt(lookup, "KPISYNC_DEMO_PURCHASES", &cfg.Purchases),
		applyInt(lookup, "KPISYNC_DEMO_CASH_MOVEMENTS", &cfg.CashMovements),
		applyInt(lookup, "KPISYNC_DEMO_DAYS", &cfg.Days),
		applyBool(lookup, "KPISYNC_DEMO_RESET", &cfg.Reset),
		applyInt64(lookup, "KPISYNC_DEMO_SEED", &cfg.Seed),
	}
	for _, err := range applied {
		if err != nil {
			return Config{}, err
		}
	}

	cfg.Driver = strings.ToLower(cfg.Driver)
	switch cfg.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("invalid KPISYNC_DEMO_DRIVER: %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return Config{}, fmt.Errorf("KPISYNC_DEMO_DSN is required")
	}
	if cfg.Products <= 0 {
		return Config{}, fmt.Errorf("KPISYNC_DEMO_PRODUCTS must be > 0")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("KPISYNC_DEMO_DAYS must be > 0")
	}
	for key, v := range map[string]int{
		"KPISYNC_DEMO_ORDERS":         cfg.Orders,
		"KPISYNC_DEMO_INVOICES":       cfg.Invoices,
		"KPISYNC_DEMO_PURCHASES":      cfg.Purchases,
		"KPISYNC_DEMO_CASH_MOVEMENTS": cfg.CashMovements,
	} {
		if v < 0 {
			return Config{}, fmt.Errorf("%s must be >= 0", key)
		}
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
