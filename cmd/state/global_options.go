package state

import "path/filepath"

// defaultConfigFileName is the name of the JSON config file looked up in the user's config
// directory.
const defaultConfigFileName = "config.json"

// GlobalOptions contains global config values that apply for all sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions(confDir string) GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: filepath.Join(confDir, "bytestreams", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["BYTESTREAMS_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["BYTESTREAMS_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["BYTESTREAMS_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["BYTESTREAMS_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value should disable the
	// color output.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	if env["BYTESTREAMS_VERBOSE"] != "" {
		result.Verbose = true
	}
	return result
}
