// ABOUTME: SDK configuration with YAML loading, ${VAR} expansion, and duration parsing.
// ABOUTME: Built once by the caller (or loaded from file); defaults fill the gaps, never mutated after New.

package openpond

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddress is the node RPC endpoint dialed in node mode.
	DefaultAddress = "localhost:50051"

	// DefaultListenPort is the P2P port handed to a spawned node.
	DefaultListenPort = 4001

	// DefaultTimeout bounds each unary call in either mode.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is the gap between polling cycles in api mode.
	DefaultPollInterval = 5 * time.Second
)

// Config is the full configuration surface of the SDK. Setting APIURL selects
// the hosted-API transport; otherwise the local node transport is used.
type Config struct {
	// Node transport.
	Address    string `yaml:"address"`
	ListenPort int    `yaml:"listen_port"`
	SpawnNode  bool   `yaml:"spawn_node"`
	BinaryPath string `yaml:"binary_path"`
	ProtoPath  string `yaml:"proto_path"`

	// Hosted-API transport.
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	UseSSE bool   `yaml:"use_sse"`

	// Identity.
	AgentID    string `yaml:"agent_id"`
	AgentName  string `yaml:"agent_name"`
	Credential string `yaml:"credential"`

	Timeout      time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling.
	TimeoutRaw      string `yaml:"timeout"`
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoadConfig reads a YAML configuration file. Environment variables in the
// form ${VAR_NAME} are expanded and duration strings are parsed.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) parseDurations() error {
	var err error
	if c.TimeoutRaw != "" {
		c.Timeout, err = time.ParseDuration(c.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", c.TimeoutRaw, err)
		}
	}
	if c.PollIntervalRaw != "" {
		c.PollInterval, err = time.ParseDuration(c.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", c.PollIntervalRaw, err)
		}
	}
	return nil
}

// ApplyDefaults fills unset fields. A missing agent identity gets a
// generated one so a client is usable out of the box.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AgentID == "" {
		c.AgentID = "agent-" + uuid.NewString()[:8]
	}
	if c.AgentName == "" {
		c.AgentName = c.AgentID
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.APIURL == "" && c.Address == "" {
		return fmt.Errorf("either api_url or address is required")
	}
	return nil
}
