// Package shared lets several independently loaded bindings in one process
// use a single set of native hooks.
//
// A Registry owns the hooks. Every cooperating binding attaches an Instance
// and enables or disables hooks through it; a native hook stays active while
// at least one instance has it enabled.
package shared

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/hooks"
)

type Registry struct {
	log zerolog.Logger

	mu          sync.Mutex
	hooks       *hooks.Manager
	initialized bool
	initErr     error
	refs        map[string]int
	instances   map[uuid.UUID]*Instance
}

// NewRegistry creates the hooks from opts on first use. The Enabled switches
// of opts are ignored; instances decide what is enabled.
func NewRegistry(opts config.Hooks, log zerolog.Logger) *Registry {
	disabled := config.From(opts).HookNone().Build()
	return &Registry{
		log:       log,
		hooks:     hooks.NewManager(disabled, log),
		refs:      make(map[string]int),
		instances: make(map[uuid.UUID]*Instance),
	}
}

// Hooks is the manager behind the registry, for subscribing to events and
// calling through. Enable state must go through an Instance.
func (r *Registry) Hooks() *hooks.Manager { return r.hooks }

// Attach registers a new user of the hooks. opts says which hooks the user
// wants enabled once it initializes.
func (r *Registry) Attach(name string, opts config.Hooks) *Instance {
	i := &Instance{
		id:      uuid.New(),
		name:    name,
		r:       r,
		opts:    opts,
		enabled: make(map[string]bool),
	}
	r.mu.Lock()
	r.instances[i.id] = i
	r.mu.Unlock()
	r.log.Debug().Str("instance", name).Str("id", i.id.String()).Msg("[SHARED] attached")
	return i
}

// Instances is the number of attached instances.
func (r *Registry) Instances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Refs is how many instances have name enabled.
func (r *Registry) Refs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[name]
}

// initialize creates the hooks exactly once. Later callers get the first
// result.
func (r *Registry) initialize(factory hooks.Factory, b *browser.Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		r.initErr = r.hooks.Initialize(factory, b)
		r.initialized = true
	}
	return r.initErr
}

func (r *Registry) acquire(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", hooks.ErrUnknownHook, name)
	}
	if r.refs[name] == 0 {
		if err := r.hooks.Enable(name); err != nil {
			return err
		}
	}
	r.refs[name]++
	return nil
}

func (r *Registry) release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[name] == 0 {
		return nil
	}
	if r.refs[name] == 1 {
		if err := r.hooks.Disable(name); err != nil {
			return err
		}
	}
	r.refs[name]--
	return nil
}

func (r *Registry) forget(i *Instance) {
	r.mu.Lock()
	delete(r.instances, i.id)
	r.mu.Unlock()
	r.log.Debug().Str("instance", i.name).Str("id", i.id.String()).Msg("[SHARED] detached")
}

// Instance is one user's view of the shared hooks. An instance is not safe
// for concurrent use.
type Instance struct {
	id      uuid.UUID
	name    string
	r       *Registry
	opts    config.Hooks
	enabled map[string]bool
}

func (i *Instance) ID() uuid.UUID         { return i.id }
func (i *Instance) Name() string          { return i.name }
func (i *Instance) Hooks() *hooks.Manager { return i.r.hooks }

// Enabled reports whether this instance has name enabled.
func (i *Instance) Enabled(name string) bool { return i.enabled[name] }

// Initialize creates the shared hooks if no instance did yet, then enables
// the hooks this instance asked for. Hooks that could not be created are
// skipped; their errors come from the creating call.
func (i *Instance) Initialize(factory hooks.Factory, b *browser.Manager) error {
	err := i.r.initialize(factory, b)
	for _, name := range wanted(i.opts) {
		if _, ok := i.r.hooks.Lookup(name); ok {
			err = multierr.Append(err, i.Enable(name))
		}
	}
	return err
}

func (i *Instance) Enable(names ...string) error {
	var err error
	for _, name := range names {
		if i.enabled[name] {
			continue
		}
		if e := i.r.acquire(name); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		i.enabled[name] = true
	}
	return err
}

func (i *Instance) Disable(names ...string) error {
	var err error
	for _, name := range names {
		if _, ok := i.r.hooks.Lookup(name); !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s", hooks.ErrUnknownHook, name))
			continue
		}
		if !i.enabled[name] {
			continue
		}
		if e := i.r.release(name); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		delete(i.enabled, name)
	}
	return err
}

func (i *Instance) EnableAll() error {
	return i.Enable(present(i.r.hooks)...)
}

func (i *Instance) DisableAll() error {
	return i.Disable(present(i.r.hooks)...)
}

// Detach drops every reference this instance holds and removes it from the
// registry.
func (i *Instance) Detach() error {
	err := i.DisableAll()
	i.r.forget(i)
	return err
}

func present(m *hooks.Manager) []string {
	var names []string
	for _, h := range m.Hooks() {
		names = append(names, h.Name())
	}
	return names
}

func wanted(opts config.Hooks) []string {
	var names []string
	for _, name := range hooks.Names() {
		if hooks.Slot(&opts, name).Enabled {
			names = append(names, name)
		}
	}
	return names
}
