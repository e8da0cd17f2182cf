package hooks_test

import (
	"errors"
	"testing"

	"go.uber.org/multierr"

	"nosbind/binding/bindingtest"
	"nosbind/browser"
	"nosbind/config"
	"nosbind/hooks"
	"nosbind/scanner"
)

// rig is a simulated client whose hooks all start disabled.
type rig struct {
	*bindingtest.Client
	scanner *scanner.Scanner
	browser *browser.Manager
	hooks   *hooks.Manager

	browserErr error
	initErr    error
}

func newRig(t *testing.T, setup func(c *bindingtest.Client, cfg *config.Config)) *rig {
	t.Helper()
	c := bindingtest.New(func(c *bindingtest.Client, cfg *config.Config) {
		for _, name := range hooks.Names() {
			bindingtest.Slot(&cfg.Hooks, name).Enabled = false
		}
		cfg.Client.SuppressFirstCancel = false
		if setup != nil {
			setup(c, cfg)
		}
	})

	r := &rig{
		Client:  c,
		scanner: c.Binding.Scanner(),
		browser: c.Binding.Browser(),
		hooks:   c.Binding.Hooks(),
	}
	r.browserErr, r.initErr = split(c.Binding.Initialize())
	return r
}

// split separates browser failures from hook failures.
func split(err error) (browserErr, hookErr error) {
	for _, e := range multierr.Errors(err) {
		var initErr *hooks.ModuleInitializationError
		if errors.As(e, &initErr) {
			hookErr = multierr.Append(hookErr, e)
		} else {
			browserErr = multierr.Append(browserErr, e)
		}
	}
	return browserErr, hookErr
}
