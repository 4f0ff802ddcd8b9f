package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		RulesPath:             "rules.json",
		SweepIntervalSeconds:  120,
		ExpiryHours:           24,
		SweepBatchSize:        500,
		StoreTimeoutSeconds:   5,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.RulesPath != "rules.json" {
		t.Errorf("RulesPath = %q, want %q", c.RulesPath, "rules.json")
	}
	if c.SweepIntervalSeconds != 120 {
		t.Errorf("SweepIntervalSeconds = %d, want 120", c.SweepIntervalSeconds)
	}
	if c.ExpiryHours != 24 {
		t.Errorf("ExpiryHours = %d, want 24", c.ExpiryHours)
	}
	if c.SweepBatchSize != 500 {
		t.Errorf("SweepBatchSize = %d, want 500", c.SweepBatchSize)
	}
	if c.StoreTimeoutSeconds != 5 {
		t.Errorf("StoreTimeoutSeconds = %d, want 5", c.StoreTimeoutSeconds)
	}

	// Defaults must validate.
	if err := c.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/alerts",
		"-rules-path", "/etc/alerts/rules.json",
		"-sweep-interval-seconds", "30",
		"-expiry-hours", "48",
		"-sweep-batch-size", "100",
		"-api-token", "tok-override",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/alerts" {
		t.Errorf("DatabaseURL = %q, want %q", c.DatabaseURL, "postgres://localhost/alerts")
	}
	if c.RulesPath != "/etc/alerts/rules.json" {
		t.Errorf("RulesPath = %q, want %q", c.RulesPath, "/etc/alerts/rules.json")
	}
	if c.SweepIntervalSeconds != 30 {
		t.Errorf("SweepIntervalSeconds = %d, want 30", c.SweepIntervalSeconds)
	}
	if c.ExpiryHours != 48 {
		t.Errorf("ExpiryHours = %d, want 48", c.ExpiryHours)
	}
	if c.SweepBatchSize != 100 {
		t.Errorf("SweepBatchSize = %d, want 100", c.SweepBatchSize)
	}
	if c.APIToken != "tok-override" {
		t.Errorf("APIToken = %q, want %q", c.APIToken, "tok-override")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	withField := func(mutate func(*Config)) Config {
		c := validBase()
		mutate(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				RulesPath: "r.json", SweepIntervalSeconds: 1, ExpiryHours: 1,
				SweepBatchSize: 1, StoreTimeoutSeconds: 1,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				RulesPath: "r.json", SweepIntervalSeconds: 3600, ExpiryHours: 720,
				SweepBatchSize: 10000, StoreTimeoutSeconds: 60,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       withField(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain negative",
			cfg:       withField(func(c *Config) { c.DrainSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name: "drain above max",
			cfg: withField(func(c *Config) {
				c.DrainSeconds = 301
				c.ShutdownBudgetSeconds = 302
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name: "budget equals drain",
			cfg: withField(func(c *Config) {
				c.DrainSeconds = 60
				c.ShutdownBudgetSeconds = 60
			}),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name: "budget less than drain",
			cfg: withField(func(c *Config) {
				c.DrainSeconds = 60
				c.ShutdownBudgetSeconds = 30
			}),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       withField(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       withField(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Rules path
		{
			name:      "empty rules path",
			cfg:       withField(func(c *Config) { c.RulesPath = "" }),
			wantErr:   true,
			errSubstr: []string{"RULES_PATH"},
		},
		// Sweeper knobs
		{
			name:      "sweep interval zero",
			cfg:       withField(func(c *Config) { c.SweepIntervalSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SWEEP_INTERVAL_SECONDS"},
		},
		{
			name:      "sweep interval above max",
			cfg:       withField(func(c *Config) { c.SweepIntervalSeconds = 3601 }),
			wantErr:   true,
			errSubstr: []string{"SWEEP_INTERVAL_SECONDS"},
		},
		{
			name:      "expiry zero",
			cfg:       withField(func(c *Config) { c.ExpiryHours = 0 }),
			wantErr:   true,
			errSubstr: []string{"EXPIRY_HOURS"},
		},
		{
			name:      "expiry above max",
			cfg:       withField(func(c *Config) { c.ExpiryHours = 721 }),
			wantErr:   true,
			errSubstr: []string{"EXPIRY_HOURS"},
		},
		{
			name:      "batch size zero",
			cfg:       withField(func(c *Config) { c.SweepBatchSize = 0 }),
			wantErr:   true,
			errSubstr: []string{"SWEEP_BATCH_SIZE"},
		},
		{
			name:      "store timeout zero",
			cfg:       withField(func(c *Config) { c.StoreTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"STORE_TIMEOUT_SECONDS"},
		},
		{
			name:      "store timeout above max",
			cfg:       withField(func(c *Config) { c.StoreTimeoutSeconds = 61 }),
			wantErr:   true,
			errSubstr: []string{"STORE_TIMEOUT_SECONDS"},
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"RULES_PATH", "SWEEP_INTERVAL_SECONDS", "EXPIRY_HOURS",
				"SWEEP_BATCH_SIZE", "STORE_TIMEOUT_SECONDS",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: Config{
				DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32,
				APIPort: math.MinInt32, SweepIntervalSeconds: math.MinInt32,
				ExpiryHours: math.MinInt32, SweepBatchSize: math.MinInt32,
				StoreTimeoutSeconds: math.MinInt32,
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()

	c := validBase()
	if got := c.SweepInterval(); got != 2*time.Minute {
		t.Errorf("SweepInterval() = %v, want 2m", got)
	}
	if got := c.Expiry(); got != 24*time.Hour {
		t.Errorf("Expiry() = %v, want 24h", got)
	}
	if got := c.StoreTimeout(); got != 5*time.Second {
		t.Errorf("StoreTimeout() = %v, want 5s", got)
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, sweep, expiry, batch, timeout int
		rulesPath                                          string
	}{
		{60, 90, 8080, 120, 24, 500, 5, "rules.json"},
		{1, 2, 1, 1, 1, 1, 1, "r"},
		{299, 300, 65535, 3600, 720, 10000, 60, "r"},
		{0, 0, 0, 0, 0, 0, 0, ""},
		{-1, -1, -1, -1, -1, -1, -1, ""},
		{301, 302, 65536, 3601, 721, 10001, 61, ""},
		{150, 100, 8080, 120, 24, 500, 5, "r"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.sweep, s.expiry, s.batch, s.timeout, s.rulesPath)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, sweep, expiry, batch, timeout int, rulesPath string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			RulesPath:             rulesPath,
			SweepIntervalSeconds:  sweep,
			ExpiryHours:           expiry,
			SweepBatchSize:        batch,
			StoreTimeoutSeconds:   timeout,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		rulesOK := rulesPath != ""
		sweepOK := sweep >= 1 && sweep <= 3600
		expiryOK := expiry >= 1 && expiry <= 720
		batchOK := batch >= 1 && batch <= 10000
		timeoutOK := timeout >= 1 && timeout <= 60

		allValid := drainOK && budgetOK && portOK && crossOK && rulesOK &&
			sweepOK && expiryOK && batchOK && timeoutOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
