package appbase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Built-in option names contributed by the framework itself.
const (
	OptionPlugin     = "plugin"
	OptionHelp       = "help"
	OptionVersion    = "version"
	OptionConfigFile = "config-file"
)

// Options is the merged option map handed to every plugin's Initialize hook.
// It resolves values with command line precedence: a value passed on the
// command line wins over one read from the configuration file, which wins
// over the option's declared default.
type Options struct {
	flags *pflag.FlagSet
	file  map[string]any
}

// IsSet reports whether the option was explicitly provided, either on the
// command line or in the configuration file. Options left at their default
// are not set.
func (o *Options) IsSet(name string) bool {
	if f := o.flags.Lookup(name); f != nil && f.Changed {
		return true
	}
	_, ok := o.file[name]
	return ok
}

// fileValue converts a configuration file value to the requested type using
// the same string-mediated coercion applied to every external option source.
func (o *Options) fileValue(name string, t reflect.Type) (any, bool, error) {
	raw, ok := o.file[name]
	if !ok {
		return nil, false, nil
	}
	converted, err := cast.FromType(fmt.Sprint(raw), t)
	if err != nil {
		return nil, true, fmt.Errorf("%w: option %q: %v", ErrOptionTypeMismatch, name, err)
	}
	return converted, true, nil
}

// GetString returns the option's string value.
func (o *Options) GetString(name string) (string, error) {
	if err := o.declared(name); err != nil {
		return "", err
	}
	if !o.changed(name) {
		if v, ok, err := o.fileValue(name, reflect.TypeOf("")); err != nil {
			return "", err
		} else if ok {
			return v.(string), nil
		}
	}
	return o.flags.GetString(name)
}

// GetBool returns the option's boolean value. Presence-style switches read
// true when the flag was passed.
func (o *Options) GetBool(name string) (bool, error) {
	if err := o.declared(name); err != nil {
		return false, err
	}
	if !o.changed(name) {
		if v, ok, err := o.fileValue(name, reflect.TypeOf(false)); err != nil {
			return false, err
		} else if ok {
			return v.(bool), nil
		}
	}
	return o.flags.GetBool(name)
}

// GetInt returns the option's int value.
func (o *Options) GetInt(name string) (int, error) {
	if err := o.declared(name); err != nil {
		return 0, err
	}
	if !o.changed(name) {
		if v, ok, err := o.fileValue(name, reflect.TypeOf(int(0))); err != nil {
			return 0, err
		} else if ok {
			return v.(int), nil
		}
	}
	return o.flags.GetInt(name)
}

// GetUint64 returns the option's uint64 value.
func (o *Options) GetUint64(name string) (uint64, error) {
	if err := o.declared(name); err != nil {
		return 0, err
	}
	if !o.changed(name) {
		if v, ok, err := o.fileValue(name, reflect.TypeOf(uint64(0))); err != nil {
			return 0, err
		} else if ok {
			return v.(uint64), nil
		}
	}
	return o.flags.GetUint64(name)
}

// GetStringArray returns the option's repeated string values.
func (o *Options) GetStringArray(name string) ([]string, error) {
	if err := o.declared(name); err != nil {
		return nil, err
	}
	if !o.changed(name) {
		if raw, ok := o.file[name]; ok {
			switch v := raw.(type) {
			case []any:
				out := make([]string, 0, len(v))
				for _, item := range v {
					out = append(out, fmt.Sprint(item))
				}
				return out, nil
			default:
				return []string{fmt.Sprint(v)}, nil
			}
		}
	}
	return o.flags.GetStringArray(name)
}

func (o *Options) changed(name string) bool {
	f := o.flags.Lookup(name)
	return f != nil && f.Changed
}

func (o *Options) declared(name string) error {
	if o.flags.Lookup(name) == nil {
		return fmt.Errorf("%w: %s", ErrOptionNotDeclared, name)
	}
	return nil
}

// optionsAggregator collects option descriptors from every registered plugin
// into a single flag set, rejecting duplicate declarations, and merges in
// configuration file values for options in the shared group.
type optionsAggregator struct {
	flags    *pflag.FlagSet
	owner    map[string]string // option name -> declaring plugin
	cfgNames map[string]bool   // options settable from the config file
	logger   Logger
}

func newOptionsAggregator(prog string, logger Logger) *optionsAggregator {
	a := &optionsAggregator{
		flags:    pflag.NewFlagSet(prog, pflag.ContinueOnError),
		owner:    make(map[string]string),
		cfgNames: make(map[string]bool),
		logger:   logger,
	}
	a.flags.SortFlags = true
	a.flags.SetOutput(io.Discard)
	a.flags.StringArray(OptionPlugin, nil, "plugin to activate; may be repeated")
	a.flags.Bool(OptionHelp, false, "print usage and exit")
	a.flags.Bool(OptionVersion, false, "print version and exit")
	a.flags.String(OptionConfigFile, "", "read additional option values from this file")
	for _, name := range []string{OptionPlugin, OptionHelp, OptionVersion, OptionConfigFile} {
		a.owner[name] = "appbase"
	}
	return a
}

// gather queries every registered plugin descriptor for its option
// contributions. A fresh probe instance declares the options; the live
// instance created at activation time receives the parsed values.
func (a *optionsAggregator) gather() error {
	var gatherErr error
	for _, name := range registry.names() {
		desc, _ := registry.find(name)
		probe := desc.constructor()

		cli := pflag.NewFlagSet(name+".cli", pflag.ContinueOnError)
		cfg := pflag.NewFlagSet(name+".cfg", pflag.ContinueOnError)
		probe.SetProgramOptions(cli, cfg)

		merge := func(fs *pflag.FlagSet, shared bool) {
			fs.VisitAll(func(f *pflag.Flag) {
				if prev, taken := a.owner[f.Name]; taken {
					if gatherErr == nil {
						gatherErr = fmt.Errorf("%w: --%s declared by both %s and %s",
							ErrDuplicateOption, f.Name, prev, name)
					}
					return
				}
				a.owner[f.Name] = name
				if shared {
					a.cfgNames[f.Name] = true
				}
				a.flags.AddFlag(f)
			})
		}
		merge(cli, false)
		merge(cfg, true)
	}
	return gatherErr
}

// parse parses argv (without the program name) against the merged flag set.
func (a *optionsAggregator) parse(args []string) error {
	a.flags.Usage = func() {} // usage printing is the facade's decision
	return a.flags.Parse(args)
}

// loadConfigFile reads option values from a YAML or TOML file. Only options
// in the shared group may be set from the file; other keys are reported and
// ignored.
func (a *optionsAggregator) loadConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileRead, path, err)
	}

	raw := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileRead, path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigFileRead, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrConfigFileFormat, ext)
	}

	values := make(map[string]any, len(raw))
	for key, value := range raw {
		if !a.cfgNames[key] {
			a.logger.Warn("Ignoring config file key not settable from file", "key", key, "file", path)
			continue
		}
		values[key] = value
	}
	return values, nil
}

// usage renders the merged option surface, grouped under the program name.
func (a *optionsAggregator) usage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s [options]\n\nOptions:\n", a.flags.Name())
	b.WriteString(a.flags.FlagUsages())
	return b.String()
}

// isHelpRequested distinguishes pflag's built-in help error from real parse
// failures.
func isHelpRequested(err error) bool {
	return errors.Is(err, pflag.ErrHelp)
}
