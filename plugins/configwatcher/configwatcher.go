// Package configwatcher provides an optional plugin that watches the
// application's configuration file and posts change notifications onto the
// application's worker goroutine. Subscribers therefore observe changes
// serialized with all other application work.
//
// Plugins themselves are never hot-reloaded; the watcher only reports that
// the file changed and leaves the reaction to its subscribers.
package configwatcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"github.com/sirius4galaxy/appbase"
)

// PluginName is the unique identifier for the config watcher plugin.
const PluginName = "configwatcher"

// Plugin watches the --config-file path for modifications.
type Plugin struct {
	appbase.PluginBase

	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.Mutex
	callbacks []func(path string)
}

// New creates the config watcher plugin.
func New() *Plugin {
	return &Plugin{}
}

// Name implements appbase.Plugin.
func (p *Plugin) Name() string { return PluginName }

// SetProgramOptions implements appbase.Plugin. The plugin reads the
// framework's own --config-file option and declares none of its own.
func (p *Plugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {}

// Initialize implements appbase.Plugin.
func (p *Plugin) Initialize(opts *appbase.Options) error {
	path, err := opts.GetString(appbase.OptionConfigFile)
	if err != nil {
		return err
	}
	p.path = path
	if p.path == "" {
		p.App().Logger().Debug("No config file given; config watcher is idle")
	}
	return nil
}

// OnChange registers a callback invoked on the application's worker
// goroutine whenever the watched file is written or replaced.
func (p *Plugin) OnChange(fn func(path string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

// Startup implements appbase.Plugin.
func (p *Plugin) Startup() error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: editors and config management tools
	// typically replace the file, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}
	p.watcher = watcher
	p.done = make(chan struct{})
	go p.watch()
	p.App().Logger().Info("Watching config file", "file", p.path)
	return nil
}

func (p *Plugin) watch() {
	defer close(p.done)
	app := p.App()
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.mu.Lock()
			callbacks := append([]func(string){}, p.callbacks...)
			p.mu.Unlock()
			path := p.path
			app.Post(appbase.PriorityMedium, func() {
				for _, fn := range callbacks {
					fn(path)
				}
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			app.Logger().Warn("Config watcher error", "error", err)
		}
	}
}

// Shutdown implements appbase.Plugin.
func (p *Plugin) Shutdown() error {
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	<-p.done
	return err
}
