package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Options are the per-invocation command line settings.
type Options struct {
	ConfigFile  string
	Address     string
	Incremental bool
	Serve       bool
	Export      string
}

const (
	argConfig      = "config"
	argAddress     = "address"
	argIncremental = "incremental"
	argServe       = "serve"
	argExport      = "export"
)

// ParseArgs reads "--name value" and "--name=value" pairs. Unknown flags
// are skipped together with their value, boolean flags need an explicit
// true/false literal.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{ConfigFile: DefaultConfigFile}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name := strings.TrimLeft(arg, "-")
		value, hasValue := "", false
		if idx := strings.Index(name, "="); idx >= 0 {
			name, value, hasValue = name[:idx], name[idx+1:], true
		}

		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			i++
			value, hasValue = args[i], true
		}

		if !isKnownArg(name) {
			continue
		}
		if !hasValue {
			return nil, errors.Errorf("flag --%s requires a value", name)
		}

		if err := opts.set(name, value); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

func isKnownArg(name string) bool {
	switch name {
	case argConfig, argAddress, argIncremental, argServe, argExport:
		return true
	default:
		return false
	}
}

func (o *Options) set(name, value string) error {
	var err error
	switch name {
	case argConfig:
		o.ConfigFile = value
	case argAddress:
		o.Address = value
	case argExport:
		o.Export = value
	case argIncremental:
		o.Incremental, err = parseBoolLiteral(name, value)
	case argServe:
		o.Serve, err = parseBoolLiteral(name, value)
	}
	return err
}

func parseBoolLiteral(name, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Errorf("flag --%s expects true or false, got %q", name, value)
	}
	return b, nil
}

// Apply copies the options that override file/env configuration.
func (o *Options) Apply(cfg *Config) {
	if o.Address != "" {
		cfg.Indexer.ContractAddress = o.Address
	}
}
