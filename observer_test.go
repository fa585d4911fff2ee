package appbase

import (
	"context"
	"errors"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) observer(id string) Observer {
	return NewFunctionalObserver(id, func(ctx context.Context, event cloudevents.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
		return nil
	})
}

func (r *eventRecorder) typesFor(plugin string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, event := range r.events {
		var data map[string]string
		if err := event.DataAs(&data); err != nil || data["plugin"] != plugin {
			continue
		}
		out = append(out, event.Type())
	}
	return out
}

func TestLifecycleEventsAreEmittedInOrder(t *testing.T) {
	withRegistry(t, newPluginA, newPluginB)

	recorder := &eventRecorder{}
	app := NewApplication(WithLogger(&testLogger{}))
	require.NoError(t, app.RegisterObserver(recorder.observer("recorder")))

	ok, err := app.Initialize(nil, "pluginB")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, app.Startup())

	wait := execAsync(app)
	app.Quit()
	require.NoError(t, wait())

	// Each plugin walks the full state machine with no state skipped.
	expected := []string{
		EventTypePluginRegistered,
		EventTypePluginInitialized,
		EventTypePluginStarted,
		EventTypePluginStopped,
	}
	assert.Equal(t, expected, recorder.typesFor("pluginA"))
	assert.Equal(t, expected, recorder.typesFor("pluginB"))
}

func TestObserverEventTypeFiltering(t *testing.T) {
	withRegistry(t, newPluginA)

	recorder := &eventRecorder{}
	app := NewApplication(WithLogger(&testLogger{}))
	require.NoError(t, app.RegisterObserver(recorder.observer("stops-only"), EventTypePluginStopped))

	ok, err := app.Initialize(nil, "pluginA")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, app.Startup())

	wait := execAsync(app)
	app.Quit()
	require.NoError(t, wait())

	assert.Equal(t, []string{EventTypePluginStopped}, recorder.typesFor("pluginA"))
}

func TestObserverErrorsDoNotDisturbLifecycle(t *testing.T) {
	withRegistry(t, newPluginA)

	app := NewApplication(WithLogger(&testLogger{}))
	failing := NewFunctionalObserver("failing", func(ctx context.Context, event cloudevents.Event) error {
		return errors.New("observer exploded")
	})
	require.NoError(t, app.RegisterObserver(failing))

	ok, err := app.Initialize(nil, "pluginA")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, app.Startup())

	pA := MustFindPlugin[*pluginA](app)
	assert.Equal(t, PluginStarted, pA.State())

	wait := execAsync(app)
	app.Quit()
	require.NoError(t, wait())
}

func TestUnregisterObserver(t *testing.T) {
	withRegistry(t, newPluginA)

	recorder := &eventRecorder{}
	app := NewApplication(WithLogger(&testLogger{}))
	obs := recorder.observer("recorder")
	require.NoError(t, app.RegisterObserver(obs))
	require.NoError(t, app.UnregisterObserver(obs))
	require.NoError(t, app.UnregisterObserver(obs)) // idempotent

	ok, err := app.Initialize(nil, "pluginA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, recorder.typesFor("pluginA"))

	assert.ErrorIs(t, app.RegisterObserver(nil), ErrNilObserver)
}

func TestApplicationLevelEvents(t *testing.T) {
	withRegistry(t, newPluginA)

	recorder := &eventRecorder{}
	app := NewApplication(WithLogger(&testLogger{}))
	require.NoError(t, app.RegisterObserver(recorder.observer("recorder"),
		EventTypeApplicationStarted, EventTypeApplicationStopped))

	ok, err := app.Initialize(nil, "pluginA")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, app.Startup())

	wait := execAsync(app)
	app.Quit()
	require.NoError(t, wait())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.events, 2)
	assert.Equal(t, EventTypeApplicationStarted, recorder.events[0].Type())
	assert.Equal(t, EventTypeApplicationStopped, recorder.events[1].Type())
	assert.Equal(t, "appbase/"+app.RunID(), recorder.events[0].Source())
}
