package appbase

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal fixture with configurable name and dependencies
type namedPlugin struct {
	PluginBase
	name string
	deps []string
}

func (p *namedPlugin) Name() string                           { return p.name }
func (p *namedPlugin) Dependencies() []string                 { return p.deps }
func (p *namedPlugin) SetProgramOptions(cli, cfg *pflag.FlagSet) {}
func (p *namedPlugin) Initialize(opts *Options) error         { return nil }
func (p *namedPlugin) Startup() error                         { return nil }
func (p *namedPlugin) Shutdown() error                        { return nil }

func named(name string, deps ...string) PluginConstructor {
	return func() Plugin { return &namedPlugin{name: name, deps: deps} }
}

func TestRegisterPluginValidation(t *testing.T) {
	withRegistry(t)

	assert.ErrorIs(t, RegisterPlugin(nil), ErrNilConstructor)
	assert.ErrorIs(t, RegisterPlugin(named("")), ErrEmptyPluginName)
	require.NoError(t, RegisterPlugin(named("alpha")))
}

func TestRegisterPluginIsIdempotent(t *testing.T) {
	withRegistry(t)

	require.NoError(t, RegisterPlugin(named("alpha")))
	require.NoError(t, RegisterPlugin(named("alpha")))

	d, ok := registry.find("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", d.name)
	assert.Len(t, registry.names(), 1)
}

func TestRegistryVerifyMissingDependency(t *testing.T) {
	withRegistry(t, named("web", "db"))

	err := registry.verify([]string{"web"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPluginDependencyMissing)
}

func TestRegistryVerifyCycle(t *testing.T) {
	withRegistry(t,
		named("a", "b"),
		named("b", "c"),
		named("c", "a"),
	)

	err := registry.verify([]string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestRegistryVerifySelfCycle(t *testing.T) {
	withRegistry(t, named("selfish", "selfish"))

	err := registry.verify([]string{"selfish"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestRegistryVerifyDiamond(t *testing.T) {
	// A diamond is not a cycle: base is reachable twice but never while
	// still on the visiting stack.
	withRegistry(t,
		named("base"),
		named("left", "base"),
		named("right", "base"),
		named("top", "left", "right"),
	)

	require.NoError(t, registry.verify([]string{"top"}))
}

func TestRegistryVerifyChecksOnlyReachableGraph(t *testing.T) {
	withRegistry(t,
		named("good"),
		named("cyclic", "cyclic"),
	)

	require.NoError(t, registry.verify([]string{"good"}))
	require.Error(t, registry.verify([]string{"cyclic"}))
}
