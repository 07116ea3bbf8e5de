package streams

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

const (
	// DefaultHighWaterMark is the high-water mark of byte streams that were not given one.
	DefaultHighWaterMark = 0

	// MaxAutoAllocateChunkSize is the largest buffer a default read may allocate.
	MaxAutoAllocateChunkSize = 1 << 30
)

// Options holds the construction-time settings of a byte stream.
type Options struct {
	// HighWaterMark is the number of queued bytes above which the stream stops asking the
	// underlying source for more.
	HighWaterMark null.Float `json:"highWaterMark" envconfig:"BYTESTREAMS_HIGH_WATER_MARK"`

	// AutoAllocateChunkSize is used when the underlying source does not set its own.
	AutoAllocateChunkSize null.Int `json:"autoAllocateChunkSize" envconfig:"BYTESTREAMS_AUTO_ALLOCATE_CHUNK_SIZE"`
}

// NewOptions returns the default options.
func NewOptions() Options {
	return Options{
		HighWaterMark: null.NewFloat(DefaultHighWaterMark, false),
	}
}

// Apply returns o with every valid field of opts applied on top.
func (o Options) Apply(opts Options) Options {
	if opts.HighWaterMark.Valid {
		o.HighWaterMark = opts.HighWaterMark
	}
	if opts.AutoAllocateChunkSize.Valid {
		o.AutoAllocateChunkSize = opts.AutoAllocateChunkSize
	}
	return o
}

// Validate checks that the options describe a valid byte stream.
func (o Options) Validate() error {
	if err := validateHighWaterMark(o.HighWaterMark.Float64); err != nil {
		return err
	}
	if o.AutoAllocateChunkSize.Valid {
		return validateAutoAllocateChunkSize(o.AutoAllocateChunkSize.Int64)
	}
	return nil
}

func validateHighWaterMark(hwm float64) error {
	if math.IsNaN(hwm) || hwm < 0 {
		return newRangeError("highWaterMark value is negative or not a number")
	}
	return nil
}

func validateAutoAllocateChunkSize(size int64) error {
	if size <= 0 {
		return newRangeError("autoAllocateChunkSize value must be a positive integer")
	}
	if size > MaxAutoAllocateChunkSize {
		return newRangeError(fmt.Sprintf("autoAllocateChunkSize value must not exceed %d", MaxAutoAllocateChunkSize))
	}
	return nil
}

// ParseJSON parses the supplied JSON into Options.
func ParseJSON(data json.RawMessage) (Options, error) {
	opts := Options{}
	err := json.Unmarshal(data, &opts)
	return opts, err
}

// GetConsolidatedOptions combines {default values + JSON options + environment vars}, and
// returns the final result.
func GetConsolidatedOptions(jsonRawConf json.RawMessage, env map[string]string) (Options, error) {
	result := NewOptions()
	if jsonRawConf != nil {
		jsonOpts, err := ParseJSON(jsonRawConf)
		if err != nil {
			return result, err
		}
		result = result.Apply(jsonOpts)
	}

	envOpts := Options{}
	if err := envconfig.Process("", &envOpts, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.Apply(envOpts)

	return result, result.Validate()
}
