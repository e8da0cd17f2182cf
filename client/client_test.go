package client_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nosbind/binding/bindingtest"
	"nosbind/browser"
	"nosbind/browser/browsertest"
	"nosbind/client"
	"nosbind/config"
	"nosbind/hooks"
	"nosbind/synchronizer"
	"nosbind/useraction"
)

type packet struct {
	source client.Source
	text   string
}

type recorder struct {
	mu      sync.Mutex
	packets []packet
}

func (r *recorder) HandlePacket(_ context.Context, source client.Source, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, packet{source, text})
	return nil
}

func (r *recorder) seen() []packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]packet(nil), r.packets...)
}

type rewriter struct{}

func (rewriter) InterceptSend(p *string) bool { return *p != "blocked" }

func (rewriter) InterceptReceive(p *string) bool {
	*p = strings.ToUpper(*p)
	return true
}

type harness struct {
	*bindingtest.Client
	client *client.Client
	sync   *synchronizer.Synchronizer
	cancel context.CancelFunc
	done   chan error
}

// start runs a client over a simulated game with every hook enabled.
func start(t *testing.T, opts client.Options) *harness {
	t.Helper()
	c := bindingtest.New(func(_ *bindingtest.Client, cfg *config.Config) {
		cfg.Hooks = config.From(cfg.Hooks).HookAll().Build()
		cfg.Client.SuppressFirstCancel = false
	})
	require.NoError(t, c.Binding.Initialize())

	s := synchronizer.New(c.Binding.Periodic(), synchronizer.Options{Logger: zerolog.Nop()})
	s.Start()
	opts.Logger = zerolog.Nop()
	cl := client.New(c.Binding, s, useraction.New(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{Client: c, client: cl, sync: s, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- cl.Run(ctx) }()
	require.Eventually(t, cl.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		h.stop(t)
		s.Stop()
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	select {
	case err, ok := <-h.done:
		if ok {
			assert.NoError(t, err)
			close(h.done)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}
}

// game runs fn like a command issuer and ticks the game thread until it
// is done.
func (h *harness) game(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	for {
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
			h.Tick()
		}
	}
}

func TestRunForwardsPackets(t *testing.T) {
	r := &recorder{}
	h := start(t, client.Options{Handler: r})

	assert.Equal(t, uintptr(1), h.Receive("in 1 2"))
	assert.Equal(t, uintptr(1), h.Send("walk 3 4"))
	assert.Eventually(t, func() bool { return len(r.seen()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []packet{{client.FromServer, "in 1 2"}, {client.FromClient, "walk 3 4"}}, r.seen())

	h.stop(t)
	assert.False(t, h.client.Running())
	h.Receive("after stop")
	assert.Len(t, r.seen(), 2)
}

func TestRunTwice(t *testing.T) {
	h := start(t, client.Options{})
	assert.ErrorIs(t, h.client.Run(context.Background()), client.ErrRunning)
}

func TestInterceptor(t *testing.T) {
	tests := []struct {
		name      string
		intercept bool
		wantSend  uintptr
		wantSeen  string
	}{
		{"intercepting", true, 0, "IN 1"},
		{"not intercepting", false, 1, "in 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			h := start(t, client.Options{
				Config:      config.Client{AllowIntercept: tt.intercept},
				Handler:     r,
				Interceptor: rewriter{},
			})

			assert.Equal(t, tt.wantSend, h.Send("blocked"))
			h.Receive("in 1")
			assert.Eventually(t, func() bool { return len(r.seen()) == 2 }, time.Second, time.Millisecond)
			assert.Contains(t, r.seen(), packet{client.FromServer, tt.wantSeen})
			// the client itself still got the original text
			assert.Equal(t, []string{"in 1"}, h.Packets(hooks.PacketReceiveName))
		})
	}
}

func TestUserWalks(t *testing.T) {
	tests := []struct {
		name      string
		allow     bool
		wantOwn   uintptr
		wantUser  uintptr
		wantCalls int32
	}{
		{"user actions allowed", true, 1, 1, 1},
		{"user actions blocked", false, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var userActions atomic.Int32
			h := start(t, client.Options{
				AllowUserActions: tt.allow,
				OnUserAction:     func(context.Context) { userActions.Add(1) },
			})

			h.game(t, func() {
				for i := 0; i < 2; i++ {
					ok, err := h.client.Walk(context.Background(), 10, 20)
					assert.NoError(t, err)
					assert.True(t, ok)
				}
			})

			assert.Equal(t, tt.wantOwn, h.Walk(10, 20), "echo of our own walk")
			assert.Equal(t, tt.wantUser, h.Walk(11, 20), "user click")
			assert.Equal(t, tt.wantUser, h.PetWalk(1, 1), "user pet click")
			time.Sleep(10 * time.Millisecond)
			assert.Equal(t, 2*tt.wantCalls, userActions.Load())
		})
	}
}

func TestFollowIsUserAction(t *testing.T) {
	var userActions atomic.Int32
	h := start(t, client.Options{OnUserAction: func(context.Context) { userActions.Add(1) }})

	assert.Equal(t, uintptr(1), h.Follow(browsertest.Focused))
	assert.Eventually(t, func() bool { return userActions.Load() == 1 }, time.Second, time.Millisecond)
}

func TestCommands(t *testing.T) {
	r := &recorder{}
	h := start(t, client.Options{Handler: r})
	ctx := context.Background()
	target := browser.NewMapObject(h.World.Image, browsertest.Focused)

	h.game(t, func() {
		assert.NoError(t, h.client.SendPacket(ctx, "u_s 0 3 1"))
		assert.NoError(t, h.client.ReceivePacket(ctx, "su 1 2"))
		assert.NoError(t, h.client.FocusEntity(ctx, target))
		ok, err := h.client.FollowEntity(ctx, target)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, h.client.UnfollowEntity(ctx))
		_, err = h.client.PetWalk(ctx, 0, 7, 8)
		assert.NoError(t, err)
	})

	assert.Equal(t, []string{"u_s 0 3 1"}, h.Packets(hooks.PacketSendName))
	assert.Equal(t, []string{"su 1 2"}, h.Packets(hooks.PacketReceiveName))
	assert.Equal(t, []packet{{client.FromClient, "u_s 0 3 1"}, {client.FromServer, "su 1 2"}}, r.seen())
	assert.Equal(t, []uintptr{browsertest.UnitManager, browsertest.Focused}, h.Calls(hooks.EntityFocusName)[0])
	assert.Equal(t, []uintptr{browsertest.PlayerManager, browsertest.Focused, 0, 1}, h.Calls(hooks.EntityFollowName)[0])
	assert.Len(t, h.Calls(hooks.EntityUnfollowName), 1)
	assert.Equal(t, []uintptr{browsertest.PetManager, 7<<16 | 8, 0, 1}, h.Calls(hooks.PetWalkName)[0])
}

func TestCommandOutlivesCancelledCaller(t *testing.T) {
	h := start(t, client.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() { errs <- h.client.SendPacket(ctx, "say late") }()
	require.Eventually(t, func() bool { return h.sync.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Empty(t, h.Packets(hooks.PacketSendName))

	h.Tick()
	h.Tick()
	assert.Equal(t, []string{"say late"}, h.Packets(hooks.PacketSendName))
}
