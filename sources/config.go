package sources

import (
	"encoding/json"
	"fmt"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

const (
	// DefaultChunkSize is the size of the reads issued against the wrapped reader when the
	// consumer does not supply a buffer.
	DefaultChunkSize = 64 * 1024

	// MaxChunkSize is the largest read issued against the wrapped reader.
	MaxChunkSize = 64 * 1024 * 1024
)

// Config holds the settings of a [ReaderSource].
type Config struct {
	// ChunkSize is the maximum number of bytes read from the wrapped reader at once.
	ChunkSize null.Int `json:"chunkSize" envconfig:"BYTESTREAMS_SOURCE_CHUNK_SIZE"`

	// Encoding is the content encoding of the wrapped reader, which is transparently
	// decompressed.
	Encoding null.String `json:"encoding" envconfig:"BYTESTREAMS_SOURCE_ENCODING"`

	// RateLimit caps how many bytes per second are read. Zero means unlimited.
	RateLimit null.Int `json:"rateLimit" envconfig:"BYTESTREAMS_SOURCE_RATE_LIMIT"`
}

// NewConfig returns the default config.
func NewConfig() Config {
	return Config{
		ChunkSize: null.NewInt(DefaultChunkSize, false),
		Encoding:  null.NewString(string(EncodingIdentity), false),
		RateLimit: null.NewInt(0, false),
	}
}

// Apply returns c with every valid field of cfg applied on top.
func (c Config) Apply(cfg Config) Config {
	if cfg.ChunkSize.Valid {
		c.ChunkSize = cfg.ChunkSize
	}
	if cfg.Encoding.Valid {
		c.Encoding = cfg.Encoding
	}
	if cfg.RateLimit.Valid {
		c.RateLimit = cfg.RateLimit
	}
	return c
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.ChunkSize.Int64 <= 0 {
		return fmt.Errorf("chunk size must be a positive integer, got %d", c.ChunkSize.Int64)
	}
	if c.ChunkSize.Int64 > MaxChunkSize {
		return fmt.Errorf("chunk size must not exceed %d, got %d", MaxChunkSize, c.ChunkSize.Int64)
	}
	if c.RateLimit.Int64 < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit.Int64)
	}
	if _, err := ParseEncoding(c.Encoding.String); err != nil {
		return err
	}
	return nil
}

// GetConsolidatedConfig combines {default values + JSON config + environment vars}, and
// returns the final result.
func GetConsolidatedConfig(jsonRawConf json.RawMessage, env map[string]string) (Config, error) {
	result := NewConfig()
	if jsonRawConf != nil {
		jsonConf := Config{}
		if err := json.Unmarshal(jsonRawConf, &jsonConf); err != nil {
			return result, err
		}
		result = result.Apply(jsonConf)
	}

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.Apply(envConfig)

	return result, result.Validate()
}
