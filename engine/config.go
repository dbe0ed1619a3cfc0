package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/types"
)

// GenesisConfig describes block 1 in a config file.
type GenesisConfig struct {
	// Timestamp is an RFC 3339 time, rounded down to its block slot.
	Timestamp string `mapstructure:"timestamp"`
	Producer  string `mapstructure:"producer"`
	// PublicKey is the hex encoded compressed secp256k1 key of the
	// genesis producer.
	PublicKey string `mapstructure:"public_key"`
}

// Config holds configuration for the chain
type Config struct {
	// ChainID identifies the blockchain
	ChainID string `mapstructure:"chain_id"`

	// ConfirmationScheme is "dpos" or "bft". It cannot change after genesis.
	ConfirmationScheme string `mapstructure:"confirmation_scheme"`

	// KeyCacheSize bounds the recovered signing key cache. Zero disables
	// the cache.
	KeyCacheSize int `mapstructure:"key_cache_size"`

	// SkipSignatureValidation trusts block signatures, for replaying
	// blocks that were validated before.
	SkipSignatureValidation bool `mapstructure:"skip_signature_validation"`

	Genesis GenesisConfig `mapstructure:"genesis"`
}

// DefaultConfig returns a default configuration. The genesis public key
// has no default and must be set.
func DefaultConfig() *Config {
	return &Config{
		ChainID:            "finalberry-chain",
		ConfirmationScheme: confirm.KindDPoS.String(),
		KeyCacheSize:       4096,
		Genesis: GenesisConfig{
			Timestamp: "2000-01-01T00:00:00Z",
			Producer:  string(types.SystemProducer),
		},
	}
}

// ValidateBasic performs basic validation of the config
func (cfg *Config) ValidateBasic() error {
	var err error
	if cfg.ChainID == "" {
		err = multierr.Append(err, fmt.Errorf("%w: chain_id is empty", ErrInvalidConfig))
	}
	if _, kerr := cfg.Scheme(); kerr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: confirmation_scheme: %v", ErrInvalidConfig, kerr))
	}
	if cfg.KeyCacheSize < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: key_cache_size %d is negative", ErrInvalidConfig, cfg.KeyCacheSize))
	}
	if _, gerr := cfg.GenesisSpec(); gerr != nil {
		err = multierr.Append(err, gerr)
	}
	return err
}

// Scheme returns the configured confirmation scheme
func (cfg *Config) Scheme() (confirm.Kind, error) {
	return confirm.ParseKind(cfg.ConfirmationScheme)
}

// GenesisSpec parses the genesis section.
func (cfg *Config) GenesisSpec() (Genesis, error) {
	ts, err := time.Parse(time.RFC3339, cfg.Genesis.Timestamp)
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: genesis.timestamp: %v", ErrInvalidConfig, err)
	}
	if ts.Before(types.BlockTimestamp(0).Time()) {
		return Genesis{}, fmt.Errorf("%w: genesis.timestamp %s is before the block timestamp epoch", ErrInvalidConfig, ts)
	}
	key, err := types.PublicKeyFromHex(cfg.Genesis.PublicKey)
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: genesis.public_key: %v", ErrInvalidConfig, err)
	}
	return Genesis{
		Timestamp: types.BlockTimestampFromTime(ts),
		Producer:  types.AccountName(cfg.Genesis.Producer),
		Key:       key,
	}, nil
}

// LoadConfig reads a config file in any format viper understands. Unset
// keys keep their DefaultConfig values and every key can be overridden
// from the environment, for example FINALBERRY_GENESIS_PUBLIC_KEY.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("finalberry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("chain_id", cfg.ChainID)
	v.SetDefault("confirmation_scheme", cfg.ConfirmationScheme)
	v.SetDefault("key_cache_size", cfg.KeyCacheSize)
	v.SetDefault("skip_signature_validation", cfg.SkipSignatureValidation)
	v.SetDefault("genesis.timestamp", cfg.Genesis.Timestamp)
	v.SetDefault("genesis.producer", cfg.Genesis.Producer)
	v.SetDefault("genesis.public_key", cfg.Genesis.PublicKey)
}
