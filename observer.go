// Observer pattern support for lifecycle events. Events use the CloudEvents
// specification for standardized format and interoperability with external
// systems.
package appbase

import (
	"context"
	"slices"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// Observer defines the interface for objects that want to be notified of
// application and plugin lifecycle events.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to occurs.
	// Observers should handle events quickly; they run synchronously on the
	// goroutine driving the lifecycle transition.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// EventType constants for events emitted by the framework. Following the
// CloudEvents specification, these use reverse domain notation.
const (
	EventTypePluginRegistered  = "com.appbase.plugin.registered"
	EventTypePluginInitialized = "com.appbase.plugin.initialized"
	EventTypePluginStarted     = "com.appbase.plugin.started"
	EventTypePluginStopped     = "com.appbase.plugin.stopped"
	EventTypePluginFailed      = "com.appbase.plugin.failed"

	EventTypeApplicationStarted = "com.appbase.application.started"
	EventTypeApplicationStopped = "com.appbase.application.stopped"
	EventTypeApplicationFailed  = "com.appbase.application.failed"
)

type observerRegistration struct {
	observer     Observer
	eventTypes   []string
	registeredAt time.Time
}

func (r observerRegistration) wants(eventType string) bool {
	return len(r.eventTypes) == 0 || slices.Contains(r.eventTypes, eventType)
}

// RegisterObserver adds an observer for lifecycle events. With no eventTypes
// the observer receives every event.
func (app *Application) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrNilObserver
	}
	app.observerMu.Lock()
	defer app.observerMu.Unlock()
	app.observers = append(app.observers, observerRegistration{
		observer:     observer,
		eventTypes:   eventTypes,
		registeredAt: time.Now(),
	})
	return nil
}

// UnregisterObserver removes an observer. Idempotent; unknown observers are
// ignored.
func (app *Application) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrNilObserver
	}
	app.observerMu.Lock()
	defer app.observerMu.Unlock()
	app.observers = slices.DeleteFunc(app.observers, func(r observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

// NotifyObservers delivers an event to every subscribed observer. Observer
// errors are logged, never propagated; a failing observer cannot disturb the
// lifecycle machinery.
func (app *Application) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	app.observerMu.Lock()
	observers := append([]observerRegistration{}, app.observers...)
	app.observerMu.Unlock()

	for _, reg := range observers {
		if !reg.wants(event.Type()) {
			continue
		}
		if err := reg.observer.OnEvent(ctx, event); err != nil {
			app.logger.Warn("Observer returned error",
				"observer", reg.observer.ObserverID(), "event", event.Type(), "error", err)
		}
	}
	return nil
}

// notifyLifecycle emits a plugin lifecycle event. Must not be called while
// holding observerMu.
func (app *Application) notifyLifecycle(instance Plugin, eventType string) {
	event := NewCloudEvent(eventType, "appbase/"+app.runID, map[string]string{
		"plugin": instance.Name(),
		"state":  instance.State().String(),
	})
	_ = app.NotifyObservers(context.Background(), event)
}

// notifyApplication emits an application-level lifecycle event.
func (app *Application) notifyApplication(eventType string) {
	event := NewCloudEvent(eventType, "appbase/"+app.runID, nil)
	_ = app.NotifyObservers(context.Background(), event)
}

// NewCloudEvent creates a CloudEvent with the required attributes populated.
func NewCloudEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// newEventID generates a time-ordered unique identifier, falling back to a
// random one if the clock-based variant is unavailable.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// FunctionalObserver wraps a function as an Observer, for quick observer
// creation without defining a struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }
