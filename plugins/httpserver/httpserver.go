// Package httpserver provides an optional plugin exposing the application's
// plugin states over HTTP. It demonstrates how an event source living on its
// own goroutines feeds work back into the application's single worker: every
// handler that touches application state beyond the thread-safe snapshots
// routes through Application.Post.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"github.com/sirius4galaxy/appbase"
)

// PluginName is the unique identifier for the HTTP server plugin.
const PluginName = "httpserver"

// shutdownTimeout bounds how long Shutdown waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// Plugin serves the application's status surface over HTTP.
type Plugin struct {
	appbase.PluginBase

	listen   string
	server   *http.Server
	listener net.Listener
}

// New creates the HTTP server plugin. Register it with:
//
//	appbase.MustRegisterPlugin(func() appbase.Plugin { return httpserver.New() })
func New() *Plugin {
	return &Plugin{}
}

// Name implements appbase.Plugin.
func (p *Plugin) Name() string { return PluginName }

// SetProgramOptions implements appbase.Plugin.
func (p *Plugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {
	cfg.String("http-listen", "127.0.0.1:8080", "address the status HTTP server listens on")
}

// Initialize implements appbase.Plugin.
func (p *Plugin) Initialize(opts *appbase.Options) error {
	listen, err := opts.GetString("http-listen")
	if err != nil {
		return err
	}
	p.listen = listen

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", p.handleHealth)
	r.Get("/plugins", p.handlePlugins)
	r.Post("/quit", p.handleQuit)

	p.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Startup implements appbase.Plugin. The listener is opened here so a bad
// address fails startup rather than surfacing later as a dead endpoint.
func (p *Plugin) Startup() error {
	ln, err := net.Listen("tcp", p.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.listen, err)
	}
	p.listener = ln
	p.App().Logger().Info("HTTP status server listening", "addr", ln.Addr().String())

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.App().Logger().Error("HTTP server terminated", "error", err)
		}
	}()
	return nil
}

// Shutdown implements appbase.Plugin.
func (p *Plugin) Shutdown() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return p.server.Shutdown(ctx)
}

// Addr returns the bound listener address, valid after Startup.
func (p *Plugin) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Plugin) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (p *Plugin) handlePlugins(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.App().PluginStates())
}

// handleQuit requests application shutdown. The quit itself is posted so it
// serializes with in-flight work on the worker goroutine.
func (p *Plugin) handleQuit(w http.ResponseWriter, r *http.Request) {
	app := p.App()
	app.Post(appbase.PriorityHighest, app.Quit)
	w.WriteHeader(http.StatusAccepted)
}
