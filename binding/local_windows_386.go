//go:build windows && 386

package binding

import (
	"fmt"

	"github.com/rs/zerolog"

	"nosbind/config"
	"nosbind/hook"
	"nosbind/memory"
	"nosbind/process"
)

// NewLocal binds the client this code is loaded into.
func NewLocal(cfg config.Config, log zerolog.Logger) (*Manager, error) {
	self, err := process.Current()
	if err != nil {
		return nil, err
	}
	module, err := process.MainModule(uint32(self.PID))
	if err != nil {
		return nil, fmt.Errorf("main module: %w", err)
	}
	log.Info().Str("module", module.Name).Str("base", fmt.Sprintf("0x%X", module.Base)).
		Int32("pid", self.PID).Msg("[BINDING] attaching")

	return New(Options{
		Memory:     memory.NewLocal(),
		Backend:    hook.NewNativeBackend(),
		Module:     module,
		Executable: self.Executable,
		Config:     cfg,
		Logger:     log,
	}), nil
}
