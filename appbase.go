// Package appbase provides a plugin-oriented application framework for Go.
// It supports declarative plugin dependencies, command line and configuration
// file option handling, and a priority-ordered single-worker task executor.
//
// An application is assembled from a fixed set of plugins. Each plugin
// declares the other plugins it requires, contributes its own command line
// options, and is driven by the framework through a strict lifecycle:
// registered, initialized, started, stopped. Dependencies are initialized and
// started before their dependents and shut down after them.
//
// Basic usage:
//
//	appbase.MustRegisterPlugin(func() appbase.Plugin { return &ChainPlugin{} })
//	appbase.MustRegisterPlugin(func() appbase.Plugin { return &NetPlugin{} })
//
//	app := appbase.NewApplication()
//	ok, err := app.Initialize(os.Args[1:], "net")
//	if err != nil || !ok {
//		return err
//	}
//	if err := app.Startup(); err != nil {
//		return err
//	}
//	return app.Exec()
package appbase

import (
	"github.com/spf13/pflag"
)

// PluginState describes where a plugin is in its lifecycle. States are
// strictly monotonic; a plugin never moves backwards. On the normal path no
// state is skipped; a plugin shut down after a failed Initialize or Startup
// moves to stopped directly from the state it had reached.
type PluginState int

const (
	// PluginRegistered is the state of a freshly constructed plugin instance.
	PluginRegistered PluginState = iota
	// PluginInitialized means the plugin's Initialize hook has completed.
	PluginInitialized
	// PluginStarted means the plugin's Startup hook has completed.
	PluginStarted
	// PluginStopped means the plugin's Shutdown hook has been invoked.
	PluginStopped
)

// String returns the lowercase name of the state.
func (s PluginState) String() string {
	switch s {
	case PluginRegistered:
		return "registered"
	case PluginInitialized:
		return "initialized"
	case PluginStarted:
		return "started"
	case PluginStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Plugin is the interface every plugin must implement. Concrete plugins embed
// PluginBase, which supplies the state tracking and application back-reference
// required by the framework; the unexported methods make the embedding
// mandatory.
//
// All lifecycle hooks run on the application's worker goroutine (or the
// goroutine driving Initialize/Startup before Exec begins). A plugin that
// wants to be driven from other goroutines must route through Application.Post.
type Plugin interface {
	// Name returns the unique identifier for this plugin. The name is used
	// for dependency resolution and for selection via the --plugin flag.
	Name() string

	// SetProgramOptions contributes the plugin's options. Options added to
	// cli are accepted on the command line only; options added to cfg are
	// additionally settable from the configuration file. Option names must
	// be unique across all registered plugins.
	SetProgramOptions(cli, cfg *pflag.FlagSet)

	// Initialize is called once with the merged option values, after every
	// declared dependency has been initialized.
	Initialize(opts *Options) error

	// Startup is called once after every declared dependency has started.
	Startup() error

	// Shutdown is called exactly once for every plugin in the activation
	// order, in reverse. A plugin joins the activation order just before its
	// Initialize hook runs, so Shutdown is also called on a plugin whose
	// Initialize failed.
	Shutdown() error

	// State reports the plugin's current lifecycle state.
	State() PluginState

	// App returns the application this plugin instance is attached to.
	App() *Application

	bindApp(app *Application)
	setState(state PluginState)
}

// DependencyAware is an optional interface for plugins that require other
// plugins. Declared dependencies are activated transitively: they are
// initialized and started before this plugin even when not named on the
// command line.
type DependencyAware interface {
	// Dependencies returns the names of plugins this plugin requires.
	Dependencies() []string
}

// PluginBase provides the state bookkeeping shared by all plugins. Embed it
// in every plugin implementation:
//
//	type NetPlugin struct {
//		appbase.PluginBase
//		endpoint string
//	}
type PluginBase struct {
	app   *Application
	state PluginState
}

// State returns the plugin's current lifecycle state.
func (b *PluginBase) State() PluginState { return b.state }

// App returns the owning application. It is nil until the plugin has been
// activated by an application.
func (b *PluginBase) App() *Application { return b.app }

func (b *PluginBase) bindApp(app *Application) { b.app = app }

func (b *PluginBase) setState(state PluginState) { b.state = state }

// Priority levels for work posted to the application executor. Larger values
// run earlier. The executor accepts any integer; these are the conventional
// bands.
const (
	PriorityLowest  = 0
	PriorityLow     = 10
	PriorityMedium  = 50
	PriorityHigh    = 100
	PriorityHighest = 1000
)
