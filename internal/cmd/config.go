package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/tidwall/gjson"

	"go.k6.io/bytestreams/cmd/state"
	"go.k6.io/bytestreams/errext"
	"go.k6.io/bytestreams/errext/exitcodes"
	"go.k6.io/bytestreams/sources"
	"go.k6.io/bytestreams/streams"
)

// fileConfig holds the sections of the JSON config file.
type fileConfig struct {
	Stream json.RawMessage
	Source json.RawMessage
}

// section returns the raw JSON of the top-level key of data, or nil when it is missing.
func section(data []byte, key string) json.RawMessage {
	result := gjson.GetBytes(data, key)
	if !result.Exists() {
		return nil
	}
	return json.RawMessage(result.Raw)
}

// readDiskConfig reads the JSON config file. A missing file is not an error.
func readDiskConfig(gs *state.GlobalState) (fileConfig, error) {
	var conf fileConfig

	data, err := afero.ReadFile(gs.FS, gs.Flags.ConfigFilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return conf, nil
	}
	if err != nil {
		return conf, fmt.Errorf("couldn't load the configuration from %q: %w", gs.Flags.ConfigFilePath, err)
	}

	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return conf, fmt.Errorf("couldn't parse the configuration from %q: not a JSON object", gs.Flags.ConfigFilePath)
	}

	conf.Stream = section(data, "stream")
	conf.Source = section(data, "source")
	return conf, nil
}

// getConsolidatedConfig combines {default values + JSON config file + environment vars + CLI
// flags} into the stream options and the source config.
func getConsolidatedConfig(gs *state.GlobalState, flags *pflag.FlagSet) (streams.Options, sources.Config, error) {
	wrap := func(err error) error {
		return errext.WithExitCodeIfNone(
			errext.WithHint(err, "check the config file, the BYTESTREAMS_* environment variables and the flags"),
			exitcodes.InvalidConfig,
		)
	}

	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return streams.Options{}, sources.Config{}, wrap(err)
	}

	opts, err := streams.GetConsolidatedOptions(fileConf.Stream, gs.Env)
	if err != nil {
		return opts, sources.Config{}, wrap(err)
	}
	opts = opts.Apply(streams.Options{
		HighWaterMark: getNullFloat64(flags, "high-water-mark"),
	})
	if err := opts.Validate(); err != nil {
		return opts, sources.Config{}, wrap(err)
	}

	sourceConf, err := sources.GetConsolidatedConfig(fileConf.Source, gs.Env)
	if err != nil {
		return opts, sourceConf, wrap(err)
	}
	sourceConf = sourceConf.Apply(sources.Config{
		ChunkSize: getNullInt64(flags, "chunk-size"),
		Encoding:  getNullString(flags, "encoding"),
		RateLimit: getNullInt64(flags, "rate-limit"),
	})
	if err := sourceConf.Validate(); err != nil {
		return opts, sourceConf, wrap(err)
	}

	return opts, sourceConf, nil
}
