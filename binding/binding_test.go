package binding_test

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"nosbind/binding"
	"nosbind/binding/bindingtest"
	"nosbind/browser"
	"nosbind/browser/browsertest"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/hooks"
)

func initialized(t *testing.T, configure func(c *bindingtest.Client, cfg *config.Config)) *bindingtest.Client {
	t.Helper()
	c := bindingtest.New(configure)
	require.NoError(t, c.Binding.Initialize())
	return c
}

func TestCreateHookFromPattern(t *testing.T) {
	const off = 0x300
	var target uintptr
	c := bindingtest.New(func(c *bindingtest.Client, _ *config.Config) {
		c.World.Place(off, []byte{0x8B, 0xFF, 0x55, 0x8B, 0xEC})
		target = browsertest.ModuleBase + off + 2
		c.Proc.Define(target, hook.NoArgs, func([]uintptr) uintptr { return 7 })
	})

	detour := func([]uintptr) uintptr { return 9 }
	h, err := c.Binding.CreateHookFromPattern("Test.Disabled", hook.NoArgs, detour, config.HookOptions{
		Pattern: "8B FF 55 8B EC",
		Offset:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, target, h.Address())
	assert.False(t, h.Enabled())
	assert.Equal(t, uintptr(7), c.Proc.Call(target))

	require.NoError(t, h.Enable())
	assert.Equal(t, uintptr(9), c.Proc.Call(target))

	_, err = c.Binding.CreateHookFromPattern("Test.Again", hook.NoArgs, detour, config.HookOptions{
		Pattern: "8B FF 55 8B EC",
		Offset:  2,
	})
	assert.ErrorIs(t, err, hook.ErrDoubleHook)
}

func TestBindingNotFound(t *testing.T) {
	c := bindingtest.New(nil)
	_, err := c.Binding.CreateCancelableHookFromPattern("Test.Missing", hook.NoArgs,
		func([]uintptr) bool { return true }, config.HookOptions{Enabled: true, Pattern: "DE AD BE EF"})

	var notFound *binding.BindingNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Test.Missing", notFound.Name)
	assert.Equal(t, "DE AD BE EF", notFound.Pattern)

	_, err = c.Binding.CreateHookFromPattern("Test.Bad", hook.NoArgs,
		func([]uintptr) uintptr { return 0 }, config.HookOptions{Pattern: ""})
	assert.Error(t, err)
}

func TestNotTargetProcess(t *testing.T) {
	c := bindingtest.New(func(c *bindingtest.Client, _ *config.Config) {
		c.World.Fs = afero.NewMemMapFs()
	})

	err := c.Binding.Initialize()
	var notTarget *browser.NotTargetProcessError
	require.ErrorAs(t, err, &notTarget)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Zero(t, c.World.Image.Reads())
	for _, name := range hooks.Names() {
		assert.False(t, c.Binding.IsHookPresent(name), name)
	}
	assert.PanicsWithValue(t,
		"binding: network is not available, did you forget to call binding.Manager.Initialize?",
		func() { c.Binding.Network() })
}

func TestDegradedInitialization(t *testing.T) {
	c := bindingtest.New(func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Browser.UnitManager.Pattern = "DE AD BE EF"
	})

	err := c.Binding.Initialize()
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var browserErr *browser.ModuleInitializationError
	require.True(t, errors.As(errs[0], &browserErr))
	assert.Equal(t, "UnitManager", browserErr.Module)
	var hookErr *hooks.ModuleInitializationError
	require.True(t, errors.As(errs[1], &hookErr))
	assert.Equal(t, hooks.EntityFocusName, hookErr.Hook)

	// what did come up keeps working
	require.NoError(t, c.Binding.Network().SendPacket("say still here"))
	assert.Equal(t, []string{"say still here"}, c.Packets(hooks.PacketSendName))
	assert.Panics(t, func() { _ = c.Binding.UnitManager().FocusEntity(browser.MapObject{}) })
}

func TestNetwork(t *testing.T) {
	c := initialized(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Client.SuppressFirstCancel = false
	})
	network := c.Binding.Network()

	var sent, received []string
	network.OnPacketSend(func(p string) bool { sent = append(sent, p); return p != "blocked" })
	network.OnPacketReceive(func(p string) bool { received = append(received, p); return true })

	assert.Equal(t, uintptr(1), c.Send("walk 1 1"))
	assert.Equal(t, uintptr(0), c.Send("blocked"))
	assert.Equal(t, uintptr(1), c.Receive("at 1 2 3"))
	assert.Equal(t, []string{"walk 1 1", "blocked"}, sent)
	assert.Equal(t, []string{"at 1 2 3"}, received)
	assert.Equal(t, []string{"walk 1 1"}, c.Packets(hooks.PacketSendName))

	require.NoError(t, network.SendPacket("u_s 0 3 1"))
	require.NoError(t, network.ReceivePacket("msg 0 hi"))
	assert.Len(t, sent, 2)
	assert.Equal(t, []string{"at 1 2 3", "msg 0 hi"}, c.Packets(hooks.PacketReceiveName))

	require.NoError(t, network.DisableHooks())
	c.Send("unseen")
	assert.Len(t, sent, 2)
	require.NoError(t, network.EnableHooks())
	c.Send("seen")
	assert.Len(t, sent, 3)
}

func TestFirstCancelSuppressed(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		want     []uintptr
	}{
		{"latch on", true, []uintptr{1, 0, 1, 1}},
		{"latch off", false, []uintptr{1, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := initialized(t, func(_ *bindingtest.Client, cfg *config.Config) {
				cfg.Client.SuppressFirstCancel = tt.suppress
			})
			var seen []string
			c.Binding.Network().OnPacketReceive(func(p string) bool { seen = append(seen, p); return true })

			var got []uintptr
			for _, p := range []string{"c_info x", "cancel 2 0", "cancel 2 0", "stat 1"} {
				got = append(got, c.Receive(p))
			}
			assert.Equal(t, tt.want, got)
			if tt.suppress {
				assert.Equal(t, []string{"c_info x", "cancel 2 0", "stat 1"}, seen)
			}
		})
	}
}

func TestPlayerAndPets(t *testing.T) {
	c := initialized(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks = config.From(cfg.Hooks).HookAll().Build()
	})
	player := c.Binding.PlayerManager()

	x, y, err := player.Position()
	require.NoError(t, err)
	assert.Equal(t, [2]int16{10, 20}, [2]int16{x, y})
	c.World.MovePlayer(12, 22)
	x, y, err = player.Position()
	require.NoError(t, err)
	assert.Equal(t, [2]int16{12, 22}, [2]int16{x, y})

	var follows []hooks.EntityEvent
	unsubscribe := player.OnFollow(func(ev hooks.EntityEvent) bool { follows = append(follows, ev); return true })
	c.Follow(browsertest.Focused)
	c.Unfollow()
	unsubscribe()
	c.Follow(browsertest.Focused)
	require.Len(t, follows, 2)
	assert.Equal(t, browsertest.Focused, follows[0].Entity.Address)
	assert.True(t, follows[1].Entity.IsNil())

	ok, err := player.Walk(3, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Binding.PetManager().Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Binding.PetManager().PetWalk(0, 5, 6)
	require.NoError(t, err)
	calls := c.Calls(hooks.PetWalkName)
	assert.Equal(t, []uintptr{browsertest.PetManager, 5<<16 | 6, 0, 1}, calls[len(calls)-1])
	_, err = c.Binding.PetManager().PetWalk(3, 5, 6)
	assert.Error(t, err)

	require.NoError(t, player.DisableHooks())
	assert.False(t, c.Proc.Spliced(c.Addrs[hooks.PlayerWalkName]))
	assert.True(t, c.Proc.Spliced(c.Addrs[hooks.PetWalkName]))
}

func TestClose(t *testing.T) {
	c := initialized(t, nil)
	require.NoError(t, c.Binding.Close())

	for name, addr := range c.Addrs {
		assert.False(t, c.Proc.Spliced(addr), name)
	}
	err := c.Binding.Network().SendPacket("after close")
	assert.ErrorIs(t, err, hook.ErrReleased)
	assert.Zero(t, c.World.Image.Allocations())
}

func TestAccessorsPanicBeforeInitialize(t *testing.T) {
	c := bindingtest.New(nil)
	assert.Panics(t, func() { c.Binding.Network() })
	assert.Panics(t, func() { c.Binding.PlayerManager() })
	assert.Panics(t, func() { c.Binding.UnitManager() })
	assert.Panics(t, func() { c.Binding.PetManager() })
	assert.Panics(t, func() { c.Binding.Periodic() })
}
