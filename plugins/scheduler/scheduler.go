// Package scheduler provides an optional plugin that posts recurring work
// into the application's executor on cron schedules. Jobs fire from the cron
// runner's goroutine but always execute on the application's single worker,
// so scheduled work observes the same serialization guarantees as any other
// posted task.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/sirius4galaxy/appbase"
)

// PluginName is the unique identifier for the scheduler plugin.
const PluginName = "scheduler"

// stopTimeout bounds how long Shutdown waits for a running job dispatch.
const stopTimeout = 5 * time.Second

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Spec     string
	Priority int
	Run      func()
}

// Plugin schedules recurring work onto the application executor.
type Plugin struct {
	appbase.PluginBase

	mu      sync.Mutex
	cron    *cron.Cron
	pending []Job // jobs added before Initialize
	entries map[string]cron.EntryID
	started bool
}

// New creates the scheduler plugin.
func New() *Plugin {
	return &Plugin{entries: make(map[string]cron.EntryID)}
}

// Name implements appbase.Plugin.
func (p *Plugin) Name() string { return PluginName }

// SetProgramOptions implements appbase.Plugin.
func (p *Plugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {
	cfg.String("scheduler-location", "", "time zone name for schedule evaluation; defaults to local time")
}

// Initialize implements appbase.Plugin.
func (p *Plugin) Initialize(opts *appbase.Options) error {
	locName, err := opts.GetString("scheduler-location")
	if err != nil {
		return err
	}
	cronOpts := []cron.Option{cron.WithSeconds()}
	if locName != "" {
		loc, err := time.LoadLocation(locName)
		if err != nil {
			return fmt.Errorf("invalid scheduler-location %q: %w", locName, err)
		}
		cronOpts = append(cronOpts, cron.WithLocation(loc))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cron = cron.New(cronOpts...)
	for _, job := range p.pending {
		if err := p.scheduleLocked(job); err != nil {
			return err
		}
	}
	p.pending = nil
	return nil
}

// AddJob registers a job under a six-field cron spec (with seconds). Jobs
// added before the plugin initializes are held and scheduled during
// Initialize; jobs added later are scheduled immediately.
func (p *Plugin) AddJob(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		p.pending = append(p.pending, job)
		return nil
	}
	return p.scheduleLocked(job)
}

// RemoveJob unschedules a job by name. Unknown names are ignored.
func (p *Plugin) RemoveJob(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[name]; ok {
		p.cron.Remove(id)
		delete(p.entries, name)
	}
}

func (p *Plugin) scheduleLocked(job Job) error {
	if _, exists := p.entries[job.Name]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}
	app := p.App()
	run := job.Run
	priority := job.Priority
	id, err := p.cron.AddFunc(job.Spec, func() {
		app.Post(priority, run)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", job.Name, err)
	}
	p.entries[job.Name] = id
	return nil
}

// Startup implements appbase.Plugin.
func (p *Plugin) Startup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cron.Start()
	p.started = true
	p.App().Logger().Debug("Scheduler started", "jobs", len(p.entries))
	return nil
}

// Shutdown implements appbase.Plugin.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	cr := p.cron
	started := p.started
	p.started = false
	p.mu.Unlock()
	if cr == nil || !started {
		return nil
	}
	ctx := cr.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("scheduler jobs did not stop within %s", stopTimeout)
	}
}
