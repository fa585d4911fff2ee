package appbase

import (
	"sync"
	"testing"

	"github.com/spf13/pflag"
)

// testLogger collects log entries for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("info", msg) }
func (l *testLogger) Error(msg string, args ...any) { l.log("error", msg) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("warn", msg) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("debug", msg) }

// withRegistry swaps in a fresh process-wide registry holding only the given
// constructors, restoring the previous registry when the test finishes.
func withRegistry(t *testing.T, ctors ...PluginConstructor) {
	t.Helper()
	registry.mu.Lock()
	saved := registry.descriptors
	registry.descriptors = make(map[string]*pluginDescriptor)
	registry.mu.Unlock()
	t.Cleanup(func() {
		registry.mu.Lock()
		registry.descriptors = saved
		registry.mu.Unlock()
	})
	for _, ctor := range ctors {
		if err := RegisterPlugin(ctor); err != nil {
			t.Fatalf("RegisterPlugin: %v", err)
		}
	}
}

// traceLog records lifecycle hook invocations in order.
type traceLog struct {
	mu     sync.Mutex
	events []string
}

func (tr *traceLog) add(event string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, event)
}

func (tr *traceLog) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string{}, tr.events...)
}

func (tr *traceLog) indexOf(event string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, e := range tr.events {
		if e == event {
			return i
		}
	}
	return -1
}

// pluginA mirrors a storage-flavored plugin with no dependencies.
type pluginA struct {
	PluginBase

	readonly bool
	replay   bool
	dbsize   uint64

	trace           *traceLog
	shutdownCounter *int
	initErr         error
	startErr        error
}

func (p *pluginA) Name() string { return "pluginA" }

func (p *pluginA) SetProgramOptions(cli, cfg *pflag.FlagSet) {
	cli.Bool("readonly", false, "open db in read only mode")
	cli.Bool("replay", false, "clear db and replay all blocks")
	cli.Uint64("dbsize", 8*1024, "minimum size MB of database shared memory file")
}

func (p *pluginA) Initialize(opts *Options) error {
	if p.initErr != nil {
		return p.initErr
	}
	var err error
	if p.readonly, err = opts.GetBool("readonly"); err != nil {
		return err
	}
	if p.replay, err = opts.GetBool("replay"); err != nil {
		return err
	}
	if p.dbsize, err = opts.GetUint64("dbsize"); err != nil {
		return err
	}
	if p.trace != nil {
		p.trace.add("init:pluginA")
	}
	return nil
}

func (p *pluginA) Startup() error {
	if p.startErr != nil {
		return p.startErr
	}
	if p.trace != nil {
		p.trace.add("start:pluginA")
	}
	return nil
}

func (p *pluginA) Shutdown() error {
	if p.trace != nil {
		p.trace.add("stop:pluginA")
	}
	if p.shutdownCounter != nil {
		*p.shutdownCounter++
	}
	return nil
}

// pluginB mirrors a network-flavored plugin depending on pluginA.
type pluginB struct {
	PluginBase

	endpoint string
	throw    bool

	trace           *traceLog
	shutdownCounter *int
}

func (p *pluginB) Name() string { return "pluginB" }

func (p *pluginB) Dependencies() []string { return []string{"pluginA"} }

func (p *pluginB) SetProgramOptions(cli, cfg *pflag.FlagSet) {
	cfg.String("endpoint", "127.0.0.1:9876", "address and port")
	cli.Bool("throw", false, "fail in Shutdown")
}

func (p *pluginB) Initialize(opts *Options) error {
	var err error
	if p.endpoint, err = opts.GetString("endpoint"); err != nil {
		return err
	}
	if p.throw, err = opts.GetBool("throw"); err != nil {
		return err
	}
	if p.trace != nil {
		p.trace.add("init:pluginB")
	}
	return nil
}

func (p *pluginB) Startup() error {
	if p.trace != nil {
		p.trace.add("start:pluginB")
	}
	return nil
}

func (p *pluginB) Shutdown() error {
	if p.trace != nil {
		p.trace.add("stop:pluginB")
	}
	if p.shutdownCounter != nil {
		*p.shutdownCounter++
	}
	if p.throw {
		return errShutdownThrow
	}
	return nil
}

var errShutdownThrow = errorString("throwing in shutdown")

type errorString string

func (e errorString) Error() string { return string(e) }

func newPluginA() Plugin { return &pluginA{} }
func newPluginB() Plugin { return &pluginB{} }

// failingPlugin fails or panics in a configurable lifecycle hook.
type failingPlugin struct {
	PluginBase

	name string
	deps []string

	initErr    error
	startErr   error
	startPanic bool

	trace *traceLog
}

func (p *failingPlugin) Name() string                              { return p.name }
func (p *failingPlugin) Dependencies() []string                    { return p.deps }
func (p *failingPlugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {}

func (p *failingPlugin) Initialize(opts *Options) error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.trace != nil {
		p.trace.add("init:" + p.name)
	}
	return nil
}

func (p *failingPlugin) Startup() error {
	if p.startPanic {
		panic("panicking in startup")
	}
	if p.startErr != nil {
		return p.startErr
	}
	if p.trace != nil {
		p.trace.add("start:" + p.name)
	}
	return nil
}

func (p *failingPlugin) Shutdown() error {
	if p.trace != nil {
		p.trace.add("stop:" + p.name)
	}
	return nil
}

// hookedPlugin runs an arbitrary function during Shutdown.
type hookedPlugin struct {
	PluginBase

	name       string
	deps       []string
	onShutdown func()
}

func (p *hookedPlugin) Name() string                              { return p.name }
func (p *hookedPlugin) Dependencies() []string                    { return p.deps }
func (p *hookedPlugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {}
func (p *hookedPlugin) Initialize(opts *Options) error            { return nil }
func (p *hookedPlugin) Startup() error                            { return nil }

func (p *hookedPlugin) Shutdown() error {
	if p.onShutdown != nil {
		p.onShutdown()
	}
	return nil
}
