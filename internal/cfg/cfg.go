package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RulesPath             string
	SweepIntervalSeconds  int
	ExpiryHours           int
	SweepBatchSize        int
	StoreTimeoutSeconds   int
	APIToken              string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RulesPath, "rules-path", "rules.json", "path to the JSON rules file")
	fs.IntVar(&c.SweepIntervalSeconds, "sweep-interval-seconds", 120, "seconds between expiry sweeps (1..3600)")
	fs.IntVar(&c.ExpiryHours, "expiry-hours", 24, "age in hours after which a non-terminal alert is auto-closed (1..720)")
	fs.IntVar(&c.SweepBatchSize, "sweep-batch-size", 500, "max alerts fetched per sweep (1..10000)")
	fs.IntVar(&c.StoreTimeoutSeconds, "store-timeout-seconds", 5, "per-operation store timeout in seconds (1..60)")
	fs.StringVar(&c.APIToken, "api-token", "", "static bearer token for mutating/admin routes (empty = auth disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Rules file drives escalation and auto-close; the service is pointless without it
	if c.RulesPath == "" {
		errs = append(errs, errors.New("RULES_PATH is required"))
	}

	if c.SweepIntervalSeconds <= 0 || c.SweepIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS %d (must be 1..3600)", c.SweepIntervalSeconds))
	}
	if c.ExpiryHours <= 0 || c.ExpiryHours > 720 {
		errs = append(errs, fmt.Errorf("invalid EXPIRY_HOURS %d (must be 1..720)", c.ExpiryHours))
	}
	if c.SweepBatchSize <= 0 || c.SweepBatchSize > 10000 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_BATCH_SIZE %d (must be 1..10000)", c.SweepBatchSize))
	}
	if c.StoreTimeoutSeconds <= 0 || c.StoreTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid STORE_TIMEOUT_SECONDS %d (must be 1..60)", c.StoreTimeoutSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SweepInterval returns the sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Expiry returns the alert expiry age as a duration.
func (c *Config) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

// StoreTimeout returns the per-operation store timeout as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}
