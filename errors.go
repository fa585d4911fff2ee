package appbase

import (
	"errors"
)

// Framework errors
var (
	// Registration errors
	ErrNilConstructor          = errors.New("plugin constructor is nil")
	ErrEmptyPluginName         = errors.New("plugin name is empty")
	ErrPluginDependencyMissing = errors.New("plugin depends on unregistered plugin")
	ErrCircularDependency      = errors.New("circular plugin dependency detected")

	// Option handling errors
	ErrDuplicateOption    = errors.New("option already declared by another plugin")
	ErrUnknownPlugin      = errors.New("unknown plugin name")
	ErrConfigFileRead     = errors.New("failed to read config file")
	ErrConfigFileFormat   = errors.New("unsupported config file format")
	ErrOptionTypeMismatch = errors.New("option value has incompatible type")
	ErrOptionNotDeclared  = errors.New("option was not declared")

	// Lifecycle errors
	ErrPluginNotActivated     = errors.New("plugin is not activated")
	ErrNotInitialized         = errors.New("application is not initialized")
	ErrAlreadyInitialized     = errors.New("application already initialized")
	ErrExecAlreadyRunning     = errors.New("exec is already running or has already returned")
	ErrPluginInitializeFailed = errors.New("plugin initialize failed")
	ErrPluginStartupFailed    = errors.New("plugin startup failed")
	ErrPluginShutdownFailed   = errors.New("plugin shutdown failed")

	// Executor errors
	ErrTaskPanic = errors.New("posted task panicked")

	// Observer errors
	ErrNilObserver = errors.New("observer is nil")
)
