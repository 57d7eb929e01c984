package config

import (
	"fmt"
	"maps"
	"time"
)

// Config represents an aipfs.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	Page    PageConfig    `yaml:"page"`
	Chat    ChatConfig    `yaml:"chat"`
	ENS     ENSConfig     `yaml:"ens"`
	Journal JournalConfig `yaml:"journal"`
	Guard   GuardConfig   `yaml:"guard"`
	Adapter AdapterConfig `yaml:"adapter"`
	// Adapters lists further notification targets alongside Adapter.
	Adapters []AdapterConfig `yaml:"adapters,omitempty"`
	Log      LogConfig       `yaml:"log"`
}

// Notifiers returns every configured adapter with a type set.
func (c *Config) Notifiers() []AdapterConfig {
	var out []AdapterConfig
	for _, a := range append([]AdapterConfig{c.Adapter}, c.Adapters...) {
		if a.Type != "" {
			out = append(out, a)
		}
	}
	return out
}

// NetworkConfig selects the registry chain.
type NetworkConfig struct {
	ChainID  int64  `yaml:"chain_id"`
	RPCURL   string `yaml:"rpc_url"`
	Registry string `yaml:"registry"`
	GasLimit uint64 `yaml:"gas_limit"`
	// Fee is a decimal ether amount paid instead of the registry's fee.
	Fee          string   `yaml:"fee"`
	PollInterval Duration `yaml:"poll_interval"`
	// Networks maps extra chain ids to RPC URLs for chain switching.
	Networks map[int64]string `yaml:"networks"`
}

// Endpoints returns every known chain endpoint, the registry chain included.
func (n NetworkConfig) Endpoints() map[int64]string {
	out := maps.Clone(n.Networks)
	if out == nil {
		out = map[int64]string{}
	}
	if n.RPCURL != "" {
		out[n.ChainID] = n.RPCURL
	}
	return out
}

// WalletConfig holds the signing key.
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"`
}

// StorageConfig configures the storage network.
type StorageConfig struct {
	APIURL  string            `yaml:"api_url"`
	Gateway string            `yaml:"gateway"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout"`
	Retries *int              `yaml:"retries,omitempty"`
	Backoff Duration          `yaml:"backoff"`
	// UploadTimeout bounds the whole upload stage of an attempt.
	UploadTimeout Duration `yaml:"upload_timeout"`
}

// PageConfig points the published page at the chat runtime.
type PageConfig struct {
	ScriptURL string `yaml:"script_url"`
	StyleURL  string `yaml:"style_url"`
}

// ChatConfig configures the chat completion backend.
type ChatConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	// APIKeyObfuscated is the key in the form embedded in published pages.
	APIKeyObfuscated string   `yaml:"api_key_obfuscated"`
	Referer          string   `yaml:"referer"`
	Title            string   `yaml:"title"`
	Temperature      *float64 `yaml:"temperature,omitempty"`
	MaxTokens        int      `yaml:"max_tokens"`
	Timeout          Duration `yaml:"timeout"`
}

// ENSConfig configures the name service.
type ENSConfig struct {
	ChainID        int64    `yaml:"chain_id"`
	RPCURL         string   `yaml:"rpc_url"`
	Registry       string   `yaml:"registry"`
	ReverseRecords string   `yaml:"reverse_records"`
	NameWrapper    string   `yaml:"name_wrapper"`
	LookupTimeout  Duration `yaml:"lookup_timeout"`
	// Names are candidate names checked for ownership by `names`.
	Names []string `yaml:"names,omitempty"`
	// SkipOwnership disables the identity ownership check on publish.
	SkipOwnership bool `yaml:"skip_ownership"`
}

// JournalConfig selects the attempt journal backend.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// GuardConfig selects the publish guard. Empty RedisURL keeps the guard
// in-process.
type GuardConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type       string            `yaml:"type"`
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	BacklogKey string            `yaml:"backlog_key,omitempty"`
	Backlog    int               `yaml:"backlog,omitempty"`
	Secret     string            `yaml:"secret,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}
