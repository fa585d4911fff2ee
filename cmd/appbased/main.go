// Command appbased is a small daemon built on the appbase framework. It
// registers the bundled plugins and runs whichever the command line selects:
//
//	appbased --plugin httpserver --http-listen 127.0.0.1:8080
//	appbased --plugin scheduler --plugin configwatcher --config-file app.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirius4galaxy/appbase"
	"github.com/sirius4galaxy/appbase/plugins/configwatcher"
	"github.com/sirius4galaxy/appbase/plugins/httpserver"
	"github.com/sirius4galaxy/appbase/plugins/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	appbase.MustRegisterPlugin(func() appbase.Plugin { return httpserver.New() })
	appbase.MustRegisterPlugin(func() appbase.Plugin { return scheduler.New() })
	appbase.MustRegisterPlugin(func() appbase.Plugin { return configwatcher.New() })

	logger := appbase.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	scoped := appbase.NewScopedApplication(
		appbase.WithLogger(logger),
		appbase.WithProgramName("appbased"),
	)
	defer scoped.Close()
	app := scoped.App()

	ok, err := app.Initialize(os.Args[1:])
	if err != nil {
		return err
	}
	if !ok {
		return nil // --help or --version
	}
	if err := app.Startup(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		app.Quit()
	}()

	return app.Exec()
}
