package appbase

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Version is the framework version reported by --version. Embedders may
// override it at build time with -ldflags.
var Version = "0.1.0"

// Application is the root object an embedder holds. It owns the executor and
// the live plugin instances for one run, and drives every plugin through the
// lifecycle state machine.
//
// The zero value is not usable; construct with NewApplication. Registration
// of plugin types happens on the process-wide registry before the application
// is created; the application only decides which registered plugins are
// activated for this run.
type Application struct {
	logger   Logger
	executor *Executor
	runID    string
	prog     string
	out      io.Writer

	mu         sync.Mutex
	instances  map[string]Plugin
	activation []Plugin // order plugins reached the initialized state
	options    *Options

	initialized  bool
	shutdownDone bool

	execMu   sync.Mutex
	execDone chan struct{}

	observerMu sync.Mutex
	observers  []observerRegistration
}

// ApplicationOption customizes a new application.
type ApplicationOption func(*Application)

// WithLogger sets the framework logger. The default logs through slog.
func WithLogger(logger Logger) ApplicationOption {
	return func(app *Application) { app.logger = logger }
}

// WithProgramName sets the name used in usage output. Defaults to the
// process name.
func WithProgramName(name string) ApplicationOption {
	return func(app *Application) { app.prog = name }
}

// WithOutput sets the writer for --help and --version output. Defaults to
// stdout.
func WithOutput(w io.Writer) ApplicationOption {
	return func(app *Application) { app.out = w }
}

// NewApplication creates an empty application. Plugins are activated by
// Initialize.
func NewApplication(opts ...ApplicationOption) *Application {
	app := &Application{
		runID:     uuid.NewString(),
		prog:      "appbase",
		out:       os.Stdout,
		instances: make(map[string]Plugin),
	}
	if len(os.Args) > 0 {
		app.prog = os.Args[0]
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = NewSlogLogger(nil)
	}
	app.executor = NewExecutor(app.logger)
	return app
}

// RunID returns the unique identifier of this application instance, used as
// the source of emitted lifecycle events.
func (app *Application) RunID() string { return app.runID }

// Logger returns the framework logger.
func (app *Application) Logger() Logger { return app.logger }

// Initialize parses args (argv without the program name), selects the set of
// plugins to activate and initializes them in dependency order.
//
// The defaultPlugins are activated for every run, in addition to any plugins
// named with --plugin. Dependencies of an activated plugin are activated
// transitively.
//
// The first return value reports whether the embedder should proceed to
// Startup: --help and --version short-circuit initialization with (false,
// nil). A parse failure, an unknown plugin name or a failing plugin
// initializer yields (false, err); any plugin already initialized at that
// point has been shut down.
func (app *Application) Initialize(args []string, defaultPlugins ...string) (bool, error) {
	app.mu.Lock()
	if app.initialized {
		app.mu.Unlock()
		return false, ErrAlreadyInitialized
	}
	app.mu.Unlock()

	agg := newOptionsAggregator(app.prog, app.logger)
	if err := agg.gather(); err != nil {
		return false, err
	}
	if err := agg.parse(args); err != nil {
		if isHelpRequested(err) {
			fmt.Fprint(app.out, agg.usage())
			return false, nil
		}
		return false, fmt.Errorf("failed to parse options: %w", err)
	}

	if help, _ := agg.flags.GetBool(OptionHelp); help {
		fmt.Fprint(app.out, agg.usage())
		return false, nil
	}
	if version, _ := agg.flags.GetBool(OptionVersion); version {
		fmt.Fprintf(app.out, "%s version %s\n", app.prog, Version)
		return false, nil
	}

	fileValues := map[string]any{}
	if path, _ := agg.flags.GetString(OptionConfigFile); path != "" {
		values, err := agg.loadConfigFile(path)
		if err != nil {
			return false, err
		}
		fileValues = values
		app.logger.Debug("Loaded config file", "file", path, "keys", len(values))
	}

	requested, _ := agg.flags.GetStringArray(OptionPlugin)
	selected, err := selectPlugins(requested, defaultPlugins)
	if err != nil {
		return false, err
	}
	if err := registry.verify(selected); err != nil {
		return false, err
	}

	options := &Options{flags: agg.flags, file: fileValues}
	app.mu.Lock()
	app.options = options
	app.mu.Unlock()

	for _, name := range selected {
		if err := app.initializePlugin(name, options); err != nil {
			shutdownErr := app.shutdownAll()
			if shutdownErr != nil {
				app.logger.Error("Shutdown after failed initialization reported an error", "error", shutdownErr)
			}
			return false, err
		}
	}

	app.mu.Lock()
	app.initialized = true
	app.mu.Unlock()
	app.logger.Debug("Application initialized", "run", app.runID, "plugins", selected)
	return true, nil
}

// selectPlugins merges the --plugin names with the embedder's defaults,
// deduplicating while preserving first-mention order, and rejects names that
// are not registered.
func selectPlugins(requested, defaults []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, name := range append(append([]string{}, requested...), defaults...) {
		if seen[name] {
			continue
		}
		if _, ok := registry.find(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// initializePlugin establishes the live instance for name, initializing its
// declared dependencies first. Already-initialized plugins are left alone, so
// shared dependencies are initialized exactly once.
func (app *Application) initializePlugin(name string, options *Options) error {
	instance := app.instantiate(name)
	if instance.State() >= PluginInitialized {
		return nil
	}

	desc, _ := registry.find(name)
	for _, dep := range desc.dependencies {
		if err := app.initializePlugin(dep, options); err != nil {
			return err
		}
	}

	app.mu.Lock()
	app.activation = append(app.activation, instance)
	app.mu.Unlock()

	if err := app.invokeHook(instance, instance.Initialize, options); err != nil {
		app.notifyLifecycle(instance, EventTypePluginFailed)
		return fmt.Errorf("%w: %s: %v", ErrPluginInitializeFailed, name, err)
	}
	instance.setState(PluginInitialized)
	app.logger.Debug("Initialized plugin", "plugin", name)
	app.notifyLifecycle(instance, EventTypePluginInitialized)
	return nil
}

// instantiate returns the live instance for name, constructing and binding
// it on first use. Each name maps to at most one live instance per
// application.
func (app *Application) instantiate(name string) Plugin {
	app.mu.Lock()
	if instance, ok := app.instances[name]; ok {
		app.mu.Unlock()
		return instance
	}
	desc, _ := registry.find(name)
	instance := desc.constructor()
	instance.bindApp(app)
	app.instances[name] = instance
	app.mu.Unlock()
	app.notifyLifecycle(instance, EventTypePluginRegistered)
	return instance
}

// Startup advances every initialized plugin to the started state, walking
// the activation order so dependencies start before their dependents. If a
// plugin's Startup hook fails, everything already activated is shut down and
// the original error is returned.
func (app *Application) Startup() error {
	app.mu.Lock()
	if !app.initialized {
		app.mu.Unlock()
		return ErrNotInitialized
	}
	order := append([]Plugin{}, app.activation...)
	app.mu.Unlock()

	for _, instance := range order {
		if instance.State() != PluginInitialized {
			continue
		}
		if err := app.invokeHookNoOpts(instance, instance.Startup); err != nil {
			app.notifyLifecycle(instance, EventTypePluginFailed)
			shutdownErr := app.shutdownAll()
			if shutdownErr != nil {
				app.logger.Error("Shutdown after failed startup reported an error", "error", shutdownErr)
			}
			return fmt.Errorf("%w: %s: %v", ErrPluginStartupFailed, instance.Name(), err)
		}
		instance.setState(PluginStarted)
		app.logger.Info("Started plugin", "plugin", instance.Name())
		app.notifyLifecycle(instance, EventTypePluginStarted)
	}
	app.notifyApplication(EventTypeApplicationStarted)
	return nil
}

// Exec runs the executor on the calling goroutine until Quit is called or a
// posted task panics. On return, normal or not, the queue is drained and
// every activated plugin is shut down; a task error is returned in preference
// to a shutdown error.
func (app *Application) Exec() error {
	app.execMu.Lock()
	if app.execDone != nil {
		app.execMu.Unlock()
		return ErrExecAlreadyRunning
	}
	done := make(chan struct{})
	app.execDone = done
	app.execMu.Unlock()
	defer close(done)

	runErr := app.executor.Run()
	if runErr != nil {
		app.logger.Error("Exec loop terminated by task error", "error", runErr)
		app.notifyApplication(EventTypeApplicationFailed)
	}

	app.executor.Drain()
	shutdownErr := app.shutdownAll()
	app.notifyApplication(EventTypeApplicationStopped)

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Quit stops the application: pending work is discarded atomically and the
// exec loop returns at the next suspension point. Safe to call from any
// goroutine, including from inside a posted task; calling it more than once
// is harmless. A task already executing runs to completion.
func (app *Application) Quit() {
	app.executor.Drain()
	app.executor.Stop()
}

// Post enqueues fn for execution on the worker goroutine at the given
// priority. Work posted at equal priority runs in post order.
func (app *Application) Post(priority int, fn func()) {
	app.executor.Post(priority, fn)
}

// Executor exposes the application's executor, so that external event
// sources can feed prioritized work into the run loop.
func (app *Application) Executor() *Executor { return app.executor }

// shutdownAll walks the activation order in reverse, invoking each plugin's
// Shutdown hook exactly once. A failing hook never truncates the walk: the
// first error is captured and returned after every remaining plugin has been
// stopped; subsequent errors are logged.
func (app *Application) shutdownAll() error {
	app.mu.Lock()
	if app.shutdownDone {
		app.mu.Unlock()
		return nil
	}
	app.shutdownDone = true
	order := append([]Plugin{}, app.activation...)
	app.mu.Unlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		instance := order[i]
		if instance.State() == PluginStopped {
			continue
		}
		err := app.invokeHookNoOpts(instance, instance.Shutdown)
		instance.setState(PluginStopped)
		app.notifyLifecycle(instance, EventTypePluginStopped)
		if err != nil {
			wrapped := fmt.Errorf("%w: %s: %v", ErrPluginShutdownFailed, instance.Name(), err)
			if firstErr == nil {
				firstErr = wrapped
			} else {
				app.logger.Error("Additional error during shutdown", "plugin", instance.Name(), "error", err)
			}
			continue
		}
		app.logger.Info("Stopped plugin", "plugin", instance.Name())
	}
	return firstErr
}

// invokeHook calls a lifecycle hook taking the options map, converting a
// panic into an error so a misbehaving plugin cannot bypass shutdown.
func (app *Application) invokeHook(instance Plugin, hook func(*Options) error, opts *Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", instance.Name(), r)
		}
	}()
	return hook(opts)
}

func (app *Application) invokeHookNoOpts(instance Plugin, hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", instance.Name(), r)
		}
	}()
	return hook()
}

// Plugin returns the live instance for name. It fails if the plugin was not
// activated for this run.
func (app *Application) Plugin(name string) (Plugin, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	instance, ok := app.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotActivated, name)
	}
	return instance, nil
}

// PluginStates returns a snapshot of every activated plugin's state, keyed
// by plugin name. Safe to call from any goroutine.
func (app *Application) PluginStates() map[string]string {
	app.mu.Lock()
	defer app.mu.Unlock()
	out := make(map[string]string, len(app.instances))
	for name, instance := range app.instances {
		out[name] = instance.State().String()
	}
	return out
}

// Options returns the merged option map produced by Initialize, or nil
// before initialization.
func (app *Application) Options() *Options {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.options
}

// FindPlugin returns the live instance of the concrete plugin type P. It
// fails if no activated plugin has that type.
func FindPlugin[P Plugin](app *Application) (P, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	for _, instance := range app.instances {
		if p, ok := instance.(P); ok {
			return p, nil
		}
	}
	var zero P
	return zero, fmt.Errorf("%w: %T", ErrPluginNotActivated, zero)
}

// MustFindPlugin is like FindPlugin but panics if the plugin is not
// activated. Mirrors the common pattern of resolving a hard dependency whose
// activation was already guaranteed by the dependency declaration.
func MustFindPlugin[P Plugin](app *Application) P {
	p, err := FindPlugin[P](app)
	if err != nil {
		panic(err)
	}
	return p
}

// waitExec blocks until a running Exec returns. Returns immediately if Exec
// was never started.
func (app *Application) waitExec() {
	app.execMu.Lock()
	done := app.execDone
	app.execMu.Unlock()
	if done != nil {
		<-done
	}
}

// release detaches every live instance so the global registry can serve a
// fresh application in the same process.
func (app *Application) release() {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.instances = make(map[string]Plugin)
	app.activation = nil
	app.options = nil
}
