// Package config loads the process configuration from the environment (and
// an optional .env file) plus an optional YAML service table.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/autoops/go-autoheal/probe"
	"github.com/autoops/go-autoheal/supervisor"
)

// Prefix of every environment variable, e.g. AUTOHEAL_LOG_LEVEL
const Prefix = "AUTOHEAL"

// Roles select which loops a process runs
const (
	RoleAll     = "all"
	RoleMonitor = "monitor"
	RoleHealer  = "healer"
)

// Oracle kinds
const (
	OracleBedrock = "bedrock"
	OracleRules   = "rules"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// StoreConfig locates the probe log and the decision log
type StoreConfig struct {
	ProbeLogPath    string `envconfig:"PROBE_LOG" default:"data/logs.json"`
	DecisionLogPath string `envconfig:"DECISION_LOG" default:"data/agent_actions.json"`
}

// MonitorConfig sets the probe cadence and timeout
type MonitorConfig struct {
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"3s"`
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"2s"`
	ParallelProbes  bool          `envconfig:"PARALLEL_PROBES" default:"false"`
}

// HealerConfig sets the healing cadence and the analyzed window
type HealerConfig struct {
	HealerInterval time.Duration `envconfig:"HEALER_INTERVAL" default:"15s"`
	HealerBackoff  time.Duration `envconfig:"HEALER_BACKOFF" default:"10s"`
	Window         int           `envconfig:"WINDOW" default:"15"`
}

// OracleConfig selects and configures the decision oracle
type OracleConfig struct {
	Oracle         string        `envconfig:"ORACLE" default:"bedrock"`
	OracleTimeout  time.Duration `envconfig:"ORACLE_TIMEOUT" default:"30s"`
	BedrockRegion  string        `envconfig:"BEDROCK_REGION" default:"us-east-1"`
	BedrockModelID string        `envconfig:"BEDROCK_MODEL_ID" default:"anthropic.claude-3-sonnet-20240229-v1:0"`
}

// SupervisorConfig bounds service restarts and their shutdown
type SupervisorConfig struct {
	MaxRestarts   uint32        `envconfig:"MAX_RESTARTS" default:"0"`
	RestartWindow time.Duration `envconfig:"RESTART_WINDOW" default:"5m"`
	GracePeriod   time.Duration `envconfig:"GRACE_PERIOD" default:"5s"`
}

// OpsConfig locates the ops HTTP server
type OpsConfig struct {
	// OpsAddr serves /metrics and /healthz; empty disables the server and
	// unset picks DefaultOpsAddr for the role
	OpsAddr string `envconfig:"OPS_ADDR"`
}

// DefaultOpsAddr gives every role its own port, so a monitor process and a
// healer process can run on the same host
func DefaultOpsAddr(role string) string {
	switch role {
	case RoleMonitor:
		return ":9091"
	case RoleHealer:
		return ":9092"
	default:
		return ":9090"
	}
}

// Config is the whole process configuration
type Config struct {
	Role         string `envconfig:"ROLE" default:"all"`
	ServicesFile string `envconfig:"SERVICES_FILE"`

	LogConfig
	StoreConfig
	MonitorConfig
	HealerConfig
	OracleConfig
	SupervisorConfig
	OpsConfig

	Services []Service `ignored:"true"`
}

// Service is one monitored and restartable service
type Service struct {
	Name      string `yaml:"name"`
	HealthURL string `yaml:"health_url"`

	supervisor.LaunchSpec `yaml:",inline"`
}

type serviceTable struct {
	Services []Service `yaml:"services"`
}

// DefaultServices are used when no service table is configured
func DefaultServices() []Service {
	return []Service{
		{
			Name:      "payment",
			HealthURL: "http://localhost:5001/health",
			LaunchSpec: supervisor.LaunchSpec{
				Interpreter: "python",
				Script:      "backend/simulated_servers/app_payment.py",
			},
		},
		{
			Name:      "inventory",
			HealthURL: "http://localhost:5002/health",
			LaunchSpec: supervisor.LaunchSpec{
				Interpreter: "python",
				Script:      "backend/simulated_servers/app_inventory.py",
			},
		},
	}
}

// Load reads envPath (a missing file is not an error), the AUTOHEAL_*
// environment variables and the service table, then validates the result.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	if _, ok := os.LookupEnv(Prefix + "_OPS_ADDR"); !ok {
		cfg.OpsAddr = DefaultOpsAddr(cfg.Role)
	}

	if cfg.ServicesFile == "" {
		cfg.Services = DefaultServices()
	} else {
		services, err := LoadServices(cfg.ServicesFile)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: %w", err)
		}
		cfg.Services = services
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// LoadServices reads a YAML service table. Unknown keys are rejected.
func LoadServices(path string) ([]Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadServices: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var table serviceTable
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("config.LoadServices %s: %w", path, err)
	}
	return table.Services, nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the values that the loops cannot work without
func (cfg Config) Validate() error {
	switch cfg.Role {
	case RoleAll, RoleMonitor, RoleHealer:
	default:
		return invalidf("unknown role %q", cfg.Role)
	}
	switch cfg.Oracle {
	case OracleBedrock, OracleRules:
	default:
		return invalidf("unknown oracle %q", cfg.Oracle)
	}
	if cfg.MonitorInterval <= 0 || cfg.HealerInterval <= 0 || cfg.HealerBackoff <= 0 {
		return invalidf("loop intervals must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		return invalidf("probe timeout must be positive")
	}
	if cfg.Window <= 0 {
		return invalidf("window must be positive, got %d", cfg.Window)
	}
	if len(cfg.Services) == 0 {
		return invalidf("no services configured")
	}

	seen := make(map[string]bool, len(cfg.Services))
	for i, svc := range cfg.Services {
		if svc.Name == "" {
			return invalidf("service #%d has no name", i)
		}
		if seen[svc.Name] {
			return invalidf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		u, err := url.Parse(svc.HealthURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalidf("service %q has an invalid health_url %q", svc.Name, svc.HealthURL)
		}
	}
	return nil
}

// Targets returns the probe targets in configured order
func (cfg Config) Targets() []probe.Target {
	targets := make([]probe.Target, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		targets = append(targets, probe.Target{Name: svc.Name, HealthURL: svc.HealthURL})
	}
	return targets
}

// LaunchSpecs returns the launch table of the services that can be restarted,
// i.e. the ones with a script.
func (cfg Config) LaunchSpecs() map[string]supervisor.LaunchSpec {
	specs := make(map[string]supervisor.LaunchSpec, len(cfg.Services))
	for _, svc := range cfg.Services {
		if svc.Script != "" {
			specs[svc.Name] = svc.LaunchSpec
		}
	}
	return specs
}
