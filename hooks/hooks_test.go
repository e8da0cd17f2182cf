package hooks_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"nosbind/binding/bindingtest"
	"nosbind/browser/browsertest"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/hooks"
)

func TestReceiveEndToEnd(t *testing.T) {
	r := newRig(t, func(c *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks.PacketReceive.Enabled = true
		cfg.Hooks.PacketReceive.Pattern = "AA BB ?? DD"
		c.Addrs[hooks.PacketReceiveName] = c.World.Place(16, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	})
	require.NoError(t, r.initErr)

	res, err := r.scanner.FindPattern("AA BB ?? DD")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, 16, res.Offset)

	var got []string
	r.hooks.PacketReceive().Subscribe(func(packet string) bool {
		got = append(got, packet)
		return true
	})

	assert.Equal(t, uintptr(1), r.Receive("0 1 2"))
	assert.Equal(t, []string{"0 1 2"}, got)
	assert.Equal(t, []string{"0 1 2"}, r.Packets(hooks.PacketReceiveName))

	// the other hooks exist but stay out of the way
	assert.True(t, r.hooks.PacketReceive().Enabled())
	assert.False(t, r.hooks.PacketSend().Enabled())
}

func TestVetoOrder(t *testing.T) {
	tests := []struct {
		name     string
		answers  []bool
		wantRan  int
		proceeds bool
	}{
		{"no handlers", nil, 0, true},
		{"all pass", []bool{true, true, true}, 3, true},
		{"first vetoes", []bool{false, true, true}, 1, false},
		{"last vetoes", []bool{true, true, false}, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) { cfg.Hooks.PacketSend.Enabled = true })
			require.NoError(t, r.initErr)

			ran := 0
			for _, answer := range tt.answers {
				answer := answer
				r.hooks.PacketSend().Subscribe(func(string) bool {
					ran++
					return answer
				})
			}

			ret := r.Send("walk 1 2")
			assert.Equal(t, tt.wantRan, ran)
			if tt.proceeds {
				assert.Equal(t, uintptr(1), ret)
				assert.Len(t, r.Calls(hooks.PacketSendName), 1)
			} else {
				assert.Equal(t, uintptr(0), ret)
				assert.Empty(t, r.Calls(hooks.PacketSendName))
			}
		})
	}
}

func TestHandlerPanicProceeds(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) { cfg.Hooks.PlayerWalk.Enabled = true })
	require.NoError(t, r.initErr)

	second := false
	r.hooks.PlayerWalk().Subscribe(func(hooks.WalkEvent) bool { panic("boom") })
	r.hooks.PlayerWalk().Subscribe(func(hooks.WalkEvent) bool {
		second = true
		return true
	})

	assert.Equal(t, uintptr(1), r.Walk(5, 0))
	assert.True(t, second)
	assert.Len(t, r.Calls(hooks.PlayerWalkName), 1)
}

func TestUnsubscribe(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) { cfg.Hooks.PacketReceive.Enabled = true })
	require.NoError(t, r.initErr)

	calls := 0
	unsubscribe := r.hooks.PacketReceive().Subscribe(func(string) bool {
		calls++
		return false
	})
	r.Receive("in 1")
	unsubscribe()
	unsubscribe()
	r.Receive("in 2")

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"in 2"}, r.Packets(hooks.PacketReceiveName))
}

func TestPacketCallThrough(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks.PacketSend.Enabled = true
		cfg.Hooks.PacketReceive.Enabled = true
	})
	require.NoError(t, r.initErr)

	raised := 0
	r.hooks.PacketSend().Subscribe(func(string) bool { raised++; return false })
	r.hooks.PacketReceive().Subscribe(func(string) bool { raised++; return false })

	require.NoError(t, r.hooks.PacketSend().Send("say hello"))
	require.NoError(t, r.hooks.PacketReceive().Receive("msg 1 hello"))

	assert.Zero(t, raised)
	assert.Equal(t, []string{"say hello"}, r.Packets(hooks.PacketSendName))
	assert.Equal(t, []string{"msg 1 hello"}, r.Packets(hooks.PacketReceiveName))
	assert.Equal(t, browsertest.NetworkSend, r.Calls(hooks.PacketSendName)[0][0])
	assert.Equal(t, browsertest.NetworkReceive, r.Calls(hooks.PacketReceiveName)[0][0])
	assert.Zero(t, r.World.Image.Allocations(), "scratch strings are released")
}

func TestCallThroughMarksNestedCalls(t *testing.T) {
	r := newRig(t, func(c *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks.PlayerWalk.Enabled = true
		nested := false
		c.OnNative(hooks.PlayerWalkName, func(args []uintptr) {
			// the client re-enters the walk while handling ours
			if !nested {
				nested = true
				c.Proc.Call(c.Addrs[hooks.PlayerWalkName], args...)
			}
		})
	})
	require.NoError(t, r.initErr)

	raised := 0
	r.hooks.PlayerWalk().Subscribe(func(hooks.WalkEvent) bool { raised++; return true })

	ok, err := r.hooks.PlayerWalk().Walk(3, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, raised)
	assert.Len(t, r.Calls(hooks.PlayerWalkName), 2)

	r.Walk(3, 4)
	assert.Equal(t, 1, raised)
}

func TestWalkPositions(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks.PlayerWalk.Enabled = true
		cfg.Hooks.PetWalk.Enabled = true
	})
	require.NoError(t, r.initErr)

	var walk hooks.WalkEvent
	r.hooks.PlayerWalk().Subscribe(func(ev hooks.WalkEvent) bool { walk = ev; return true })
	var pet hooks.PetWalkEvent
	r.hooks.PetWalk().Subscribe(func(ev hooks.PetWalkEvent) bool { pet = ev; return true })

	r.Proc.Call(r.Addrs[hooks.PlayerWalkName], browsertest.PlayerManager, 20<<16|10, 0, 1)
	assert.Equal(t, hooks.WalkEvent{X: 10, Y: 20}, walk)

	r.Proc.Call(r.Addrs[hooks.PetWalkName], browsertest.PetManager, 11<<16|21, 0, 1)
	assert.Equal(t, uint16(11), pet.X)
	assert.Equal(t, uint16(21), pet.Y)
	assert.Equal(t, browsertest.PetManager, pet.PetManager.Address)

	ok, err := r.hooks.PlayerWalk().Walk(10, 20)
	require.NoError(t, err)
	assert.True(t, ok)
	calls := r.Calls(hooks.PlayerWalkName)
	assert.Equal(t, []uintptr{browsertest.PlayerManager, 20<<16 | 10, 0, 1}, calls[len(calls)-1])

	pm, err := r.browser.PetManagerList().At(0)
	require.NoError(t, err)
	_, err = r.hooks.PetWalk().Walk(pm, 11, 21)
	require.NoError(t, err)
	calls = r.Calls(hooks.PetWalkName)
	assert.Equal(t, []uintptr{browsertest.PetManager, 11<<16 | 21, 0, 1}, calls[len(calls)-1])
}

func TestEntityHooks(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks.EntityFollow.Enabled = true
		cfg.Hooks.EntityUnfollow.Enabled = true
		cfg.Hooks.EntityFocus.Enabled = true
	})
	require.NoError(t, r.initErr)

	var events []hooks.EntityEvent
	record := func(ev hooks.EntityEvent) bool { events = append(events, ev); return true }
	r.hooks.EntityFollow().Subscribe(record)
	r.hooks.EntityUnfollow().Subscribe(record)
	r.hooks.EntityFocus().Subscribe(func(hooks.EntityEvent) bool { return false })

	r.Follow(browsertest.Focused)
	r.Unfollow()
	require.Len(t, events, 2)
	id, err := events[0].Entity.ID()
	require.NoError(t, err)
	assert.Equal(t, uint32(browsertest.FocusedID), id)
	assert.True(t, events[1].Entity.IsNil())

	// vetoed by the handler, so the client never focuses
	assert.Zero(t, r.Focus(browsertest.Focused))
	assert.Empty(t, r.Calls(hooks.EntityFocusName))

	focused, err := r.browser.UnitManager().Focused()
	require.NoError(t, err)
	require.NoError(t, r.hooks.EntityFocus().Focus(focused))
	assert.Equal(t, [][]uintptr{{browsertest.UnitManager, browsertest.Focused}}, r.Calls(hooks.EntityFocusName))

	_, err = r.hooks.EntityFollow().Follow(focused)
	require.NoError(t, err)
	require.NoError(t, r.hooks.EntityUnfollow().Unfollow())
	assert.Equal(t, []uintptr{browsertest.PlayerManager, 0}, r.Calls(hooks.EntityUnfollowName)[1])
	assert.Len(t, events, 2, "call-throughs raise nothing")
}

func TestPeriodic(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) { cfg.Hooks.Periodic.Enabled = true })
	require.NoError(t, r.initErr)

	ticks := 0
	r.hooks.Periodic().Subscribe(func() { ticks++ })
	r.hooks.Periodic().Subscribe(func() { panic("tick") })
	for i := 0; i < 3; i++ {
		r.Tick()
	}
	assert.Equal(t, 3, ticks)
	assert.Len(t, r.Calls(hooks.PeriodicName), 3)
}

func TestInitializeAggregation(t *testing.T) {
	tests := []struct {
		name    string
		broken  []string
		wantErr int
	}{
		{"none failing", nil, 0},
		{"one failing", []string{hooks.EntityFocusName}, 1},
		{"two failing", []string{hooks.PetWalkName, hooks.PeriodicName}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) {
				for _, name := range tt.broken {
					bindingtest.Slot(&cfg.Hooks, name).Pattern = "DE AD BE EF"
				}
			})
			require.NoError(t, r.browserErr)
			if tt.wantErr == 0 {
				require.NoError(t, r.initErr)
				assert.Len(t, r.hooks.Hooks(), len(hooks.Names()))
				return
			}

			errs := multierr.Errors(r.initErr)
			require.Len(t, errs, tt.wantErr)
			for i, err := range errs {
				var initErr *hooks.ModuleInitializationError
				require.True(t, errors.As(err, &initErr))
				assert.Equal(t, tt.broken[i], initErr.Hook)
				_, ok := r.hooks.Lookup(initErr.Hook)
				assert.False(t, ok)
			}
			if tt.wantErr == 1 {
				_, single := r.initErr.(*hooks.ModuleInitializationError)
				assert.True(t, single)
			}
			assert.Len(t, r.hooks.Hooks(), len(hooks.Names())-tt.wantErr)
		})
	}
}

func TestMissingBrowserModule(t *testing.T) {
	r := newRig(t, func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Browser.PlayerManager.Pattern = "DE AD BE EF"
	})
	require.Error(t, r.browserErr)

	errs := multierr.Errors(r.initErr)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, hooks.ErrMissingModule)
	}
	_, ok := r.hooks.Lookup(hooks.PacketSendName)
	assert.True(t, ok)
	_, ok = r.hooks.Lookup(hooks.PetWalkName)
	assert.True(t, ok)
}

func TestEnableDisable(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.initErr)

	for _, h := range r.hooks.Hooks() {
		assert.False(t, h.Enabled(), h.Name())
		assert.False(t, r.Proc.Spliced(r.Addrs[h.Name()]))
	}

	err := r.hooks.Enable(hooks.PlayerWalkName, "Nope.Missing", hooks.PeriodicName)
	assert.ErrorIs(t, err, hooks.ErrUnknownHook)
	assert.True(t, r.hooks.PlayerWalk().Enabled())
	assert.True(t, r.hooks.Periodic().Enabled())
	assert.True(t, r.Proc.Spliced(r.Addrs[hooks.PlayerWalkName]))

	require.NoError(t, r.hooks.EnableAll())
	for _, h := range r.hooks.Hooks() {
		assert.True(t, h.Enabled(), h.Name())
	}
	require.NoError(t, r.hooks.Disable(hooks.PacketSendName))
	assert.False(t, r.hooks.PacketSend().Enabled())
	require.NoError(t, r.hooks.DisableAll())
	for name, addr := range r.Addrs {
		assert.False(t, r.Proc.Spliced(addr), name)
	}
}

func TestInitializeTwiceKeepsHooks(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.initErr)
	before := r.hooks.PlayerWalk()

	require.NoError(t, r.hooks.Initialize(r.Binding, r.browser))
	assert.Same(t, before, r.hooks.PlayerWalk())
}

func TestAccessorsPanicBeforeInitialize(t *testing.T) {
	m := hooks.NewManager(config.DefaultHooks(), zerolog.Nop())
	assert.PanicsWithValue(t,
		"hooks: NetworkManager.PacketSend is not available, did you forget to call hooks.Manager.Initialize?",
		func() { m.PacketSend() })
	assert.Panics(t, func() { m.Periodic() })
	_, ok := m.Lookup(hooks.PeriodicName)
	assert.False(t, ok)
}

func TestNativeCallErrorOnCallThrough(t *testing.T) {
	r := newRig(t, func(c *bindingtest.Client, _ *config.Config) {
		c.OnNative(hooks.EntityUnfollowName, func([]uintptr) { panic("access violation") })
	})
	require.NoError(t, r.initErr)

	err := r.hooks.EntityUnfollow().Unfollow()
	var nativeErr *hook.NativeCallError
	require.ErrorAs(t, err, &nativeErr)
	assert.Equal(t, hooks.EntityUnfollowName, nativeErr.Name)
}

// explodingFactory panics while creating one hook.
type explodingFactory struct {
	hooks.Factory
	name string
}

func (f explodingFactory) CreateHookFromPattern(name string, conv hook.Convention, detour hook.Detour, opts config.HookOptions) (*hook.Handle, error) {
	if name == f.name {
		panic("native install blew up")
	}
	return f.Factory.CreateHookFromPattern(name, conv, detour, opts)
}

func (f explodingFactory) CreateCancelableHookFromPattern(name string, conv hook.Convention, predicate hook.Predicate, opts config.HookOptions) (*hook.Handle, error) {
	if name == f.name {
		panic("native install blew up")
	}
	return f.Factory.CreateCancelableHookFromPattern(name, conv, predicate, opts)
}

func TestInitializeContainsConstructorPanic(t *testing.T) {
	c := bindingtest.New(nil)
	require.NoError(t, c.Binding.Browser().Initialize())

	m := hooks.NewManager(c.Binding.Config().Hooks, zerolog.Nop())
	var err error
	require.NotPanics(t, func() {
		err = m.Initialize(explodingFactory{Factory: c.Binding, name: hooks.PetWalkName}, c.Binding.Browser())
	})

	var initErr *hooks.ModuleInitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, hooks.PetWalkName, initErr.Hook)
	var nativeErr *hook.NativeCallError
	require.ErrorAs(t, err, &nativeErr)
	assert.Equal(t, "native install blew up", nativeErr.Recovered)

	_, ok := m.Lookup(hooks.PetWalkName)
	assert.False(t, ok)
	_, ok = m.Lookup(hooks.PeriodicName)
	assert.True(t, ok)
	assert.Len(t, m.Hooks(), len(hooks.Names())-1)
}
