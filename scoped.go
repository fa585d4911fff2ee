package appbase

import (
	"sync"
)

// ScopedApplication is a lifetime guard around an Application. It guarantees
// that on Close the exec loop has been stopped and joined before plugin
// instances are released, so two successive applications in the same process
// behave identically.
//
// Typical usage:
//
//	scoped := appbase.NewScopedApplication()
//	defer scoped.Close()
//	app := scoped.App()
type ScopedApplication struct {
	app       *Application
	closeOnce sync.Once
}

// NewScopedApplication creates an application wrapped in a lifetime guard.
func NewScopedApplication(opts ...ApplicationOption) *ScopedApplication {
	return &ScopedApplication{app: NewApplication(opts...)}
}

// App returns the guarded application.
func (s *ScopedApplication) App() *Application { return s.app }

// Close tears the application down: it quits the exec loop, waits for a
// running Exec to return (which drains the queue and shuts down every
// activated plugin), then releases the plugin instances. Idempotent.
func (s *ScopedApplication) Close() {
	s.closeOnce.Do(func() {
		s.app.Quit()
		s.app.waitExec()
		if err := s.app.shutdownAll(); err != nil {
			s.app.logger.Error("Error during scoped shutdown", "error", err)
		}
		s.app.release()
	})
}
