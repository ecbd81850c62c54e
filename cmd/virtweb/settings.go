package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/jamesprial/virtweb/internal/config"
)

// loadSettings resolves the configuration: defaults, file, environment, then
// flags and the uri argument.
func loadSettings(fs *pflag.FlagSet, flags *globalFlags, args []string) (*config.Config, error) {
	path := flags.configPath
	explicit := path != ""
	if !explicit {
		path = config.Path()
	}

	cfg, found, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if explicit && !found {
		return nil, fmt.Errorf("config file %q does not exist", path)
	}

	config.ApplyEnvOverrides(cfg)

	if f := fs.Lookup("listen"); f != nil && f.Changed {
		cfg.Server.Listen = flags.listen
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if len(args) > 0 {
		cfg.Backend.URI = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
