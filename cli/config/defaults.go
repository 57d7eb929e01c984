package config

import (
	"github.com/pithecene-io/aipfs/bundle"
	"github.com/pithecene-io/aipfs/chat"
	"github.com/pithecene-io/aipfs/ens"
	"github.com/pithecene-io/aipfs/guard"
	"github.com/pithecene-io/aipfs/lode"
	"github.com/pithecene-io/aipfs/publish"
	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/storage"
)

// MainnetRPC is the public endpoint used when none is configured.
const MainnetRPC = "https://rpc.ankr.com/eth"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "aipfs.yaml"

// Defaults returns the hosted deployment configuration.
func Defaults() *Config {
	return &Config{
		Network: NetworkConfig{
			ChainID:      1,
			RPCURL:       MainnetRPC,
			Registry:     registry.DefaultAddress,
			GasLimit:     registry.DefaultGasLimit,
			PollInterval: Duration{registry.DefaultPollInterval},
		},
		Storage: StorageConfig{
			APIURL:        storage.DefaultAPIURL,
			Gateway:       bundle.DefaultGateway,
			Timeout:       Duration{storage.DefaultTimeout},
			UploadTimeout: Duration{publish.DefaultUploadTimeout},
		},
		Page: PageConfig{
			ScriptURL: bundle.DefaultScriptURL,
			StyleURL:  bundle.DefaultStyleURL,
		},
		Chat: ChatConfig{
			BaseURL:   chat.DefaultBaseURL,
			Model:     chat.DefaultModel,
			Title:     chat.DefaultTitle,
			MaxTokens: chat.DefaultMaxTokens,
			Timeout:   Duration{chat.DefaultTimeout},
		},
		ENS: ENSConfig{
			ChainID:        ens.DefaultChainID,
			RPCURL:         MainnetRPC,
			Registry:       ens.DefaultRegistry,
			ReverseRecords: ens.DefaultReverseRecords,
			NameWrapper:    ens.DefaultNameWrapper,
			LookupTimeout:  Duration{ens.DefaultLookupTimeout},
		},
		Journal: JournalConfig{
			Dataset: lode.DefaultDataset,
			Backend: "fs",
		},
		Guard: GuardConfig{
			Prefix: guard.DefaultPrefix,
			TTL:    Duration{guard.DefaultTTL},
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyDefaults fills every unset value from Defaults.
func (c *Config) applyDefaults() {
	d := Defaults()

	fillInt(&c.Network.ChainID, d.Network.ChainID)
	fill(&c.Network.RPCURL, d.Network.RPCURL)
	fill(&c.Network.Registry, d.Network.Registry)
	if c.Network.GasLimit == 0 {
		c.Network.GasLimit = d.Network.GasLimit
	}
	fillDuration(&c.Network.PollInterval, d.Network.PollInterval)

	fill(&c.Storage.APIURL, d.Storage.APIURL)
	fill(&c.Storage.Gateway, d.Storage.Gateway)
	fillDuration(&c.Storage.Timeout, d.Storage.Timeout)
	fillDuration(&c.Storage.UploadTimeout, d.Storage.UploadTimeout)

	fill(&c.Page.ScriptURL, d.Page.ScriptURL)
	fill(&c.Page.StyleURL, d.Page.StyleURL)

	fill(&c.Chat.BaseURL, d.Chat.BaseURL)
	fill(&c.Chat.Model, d.Chat.Model)
	fill(&c.Chat.Title, d.Chat.Title)
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}
	fillDuration(&c.Chat.Timeout, d.Chat.Timeout)

	fillInt(&c.ENS.ChainID, d.ENS.ChainID)
	fill(&c.ENS.RPCURL, d.ENS.RPCURL)
	fill(&c.ENS.Registry, d.ENS.Registry)
	fill(&c.ENS.ReverseRecords, d.ENS.ReverseRecords)
	fill(&c.ENS.NameWrapper, d.ENS.NameWrapper)
	fillDuration(&c.ENS.LookupTimeout, d.ENS.LookupTimeout)

	fill(&c.Journal.Dataset, d.Journal.Dataset)
	fill(&c.Journal.Backend, d.Journal.Backend)

	fill(&c.Guard.Prefix, d.Guard.Prefix)
	fillDuration(&c.Guard.TTL, d.Guard.TTL)

	fill(&c.Log.Level, d.Log.Level)
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillInt(dst *int64, v int64) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *Duration, v Duration) {
	if dst.Duration == 0 {
		*dst = v
	}
}
