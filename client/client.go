// Package client drives a binding the way a bot does: it forwards every
// packet to a handler, lets an interceptor veto packets, tells user clicks
// apart from its own walks and issues commands on the game thread.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nosbind/binding"
	"nosbind/browser"
	"nosbind/config"
	"nosbind/hooks"
	"nosbind/synchronizer"
	"nosbind/useraction"
)

var ErrRunning = errors.New("client is already running")

// Source is where a packet came from.
type Source int

const (
	FromServer Source = iota
	FromClient
)

func (s Source) String() string {
	if s == FromServer {
		return "server"
	}
	return "client"
}

// PacketHandler consumes packets. It runs off the game thread.
type PacketHandler interface {
	HandlePacket(ctx context.Context, source Source, packet string) error
}

type PacketHandlerFunc func(ctx context.Context, source Source, packet string) error

func (f PacketHandlerFunc) HandlePacket(ctx context.Context, source Source, packet string) error {
	return f(ctx, source, packet)
}

// Interceptor sees packets on the game thread before the client handles
// them. Returning false drops the packet. A rewritten packet only reaches
// the handler.
type Interceptor interface {
	InterceptSend(packet *string) bool
	InterceptReceive(packet *string) bool
}

type Options struct {
	Config      config.Client
	Handler     PacketHandler
	Interceptor Interceptor
	// AllowUserActions lets walks the user clicks through. Either way they
	// are reported to OnUserAction only when allowed.
	AllowUserActions bool
	// OnUserAction runs after the user walked or followed someone, typically
	// to cancel whatever the bot was doing.
	OnUserAction func(ctx context.Context)
	Logger       zerolog.Logger
}

type Client struct {
	binding  *binding.Manager
	sync     *synchronizer.Synchronizer
	detector *useraction.Detector
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	group   *errgroup.Group
}

// New wraps an initialized binding. The synchronizer must be started for
// commands to complete.
func New(b *binding.Manager, s *synchronizer.Synchronizer, d *useraction.Detector, opts Options) *Client {
	return &Client{binding: b, sync: s, detector: d, opts: opts, log: opts.Logger}
}

func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Run subscribes to the hooks that are present and blocks until ctx ends.
// Packet handlers still in flight are waited for before it returns.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.log.Info().Msg("[CLIENT] starting local client")
	unsubscribe := c.subscribe()
	group, gctx := errgroup.WithContext(ctx)
	c.running, c.ctx, c.group = true, gctx, group
	c.mu.Unlock()

	<-ctx.Done()

	for _, u := range unsubscribe {
		u()
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	err := group.Wait()
	c.log.Info().Msg("[CLIENT] local client stopped")
	return err
}

func (c *Client) subscribe() []func() {
	b := c.binding
	var subs []func()
	if b.IsHookPresent(hooks.PacketSendName) {
		subs = append(subs, b.Network().OnPacketSend(c.onSend))
	}
	if b.IsHookPresent(hooks.PacketReceiveName) {
		subs = append(subs, b.Network().OnPacketReceive(c.onReceive))
	}
	if b.IsHookPresent(hooks.PlayerWalkName) {
		subs = append(subs, b.PlayerManager().OnWalk(c.onWalk))
	}
	if b.IsHookPresent(hooks.PetWalkName) {
		subs = append(subs, b.PetManager().OnPetWalk(c.onPetWalk))
	}
	if b.IsHookPresent(hooks.EntityFollowName) || b.IsHookPresent(hooks.EntityUnfollowName) {
		subs = append(subs, b.PlayerManager().OnFollow(c.onFollow))
	}
	return subs
}

func (c *Client) onSend(packet string) bool {
	accepted := true
	if c.opts.Config.AllowIntercept && c.opts.Interceptor != nil {
		accepted = c.opts.Interceptor.InterceptSend(&packet)
	}
	c.async(func(ctx context.Context) { c.handle(ctx, FromClient, packet) })
	return accepted
}

func (c *Client) onReceive(packet string) bool {
	accepted := true
	if c.opts.Config.AllowIntercept && c.opts.Interceptor != nil {
		accepted = c.opts.Interceptor.InterceptReceive(&packet)
	}
	c.async(func(ctx context.Context) { c.handle(ctx, FromServer, packet) })
	return accepted
}

func (c *Client) onWalk(ev hooks.WalkEvent) bool {
	if !c.detector.IsWalkUserAction(ev.X, ev.Y) {
		// ours or the client's own
		return true
	}
	return c.userAction()
}

func (c *Client) onPetWalk(ev hooks.PetWalkEvent) bool {
	if !c.detector.IsPetWalkUserOperation(ev.PetManager, ev.X, ev.Y) {
		return true
	}
	return c.userAction()
}

func (c *Client) onFollow(hooks.EntityEvent) bool {
	if c.opts.OnUserAction != nil {
		c.async(c.opts.OnUserAction)
	}
	return true
}

func (c *Client) userAction() bool {
	if c.opts.AllowUserActions && c.opts.OnUserAction != nil {
		c.async(c.opts.OnUserAction)
	}
	return c.opts.AllowUserActions
}

// async runs fn off the game thread while the client is running.
func (c *Client) async(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	ctx := c.ctx
	c.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("[CLIENT] background task panicked")
			}
		}()
		fn(ctx)
		return nil
	})
}

func (c *Client) handle(ctx context.Context, source Source, packet string) {
	if c.opts.Handler == nil {
		return
	}
	if err := c.opts.Handler.HandlePacket(ctx, source, packet); err != nil {
		c.log.Error().Err(err).Stringer("source", source).Str("packet", packet).Msg("[CLIENT] packet handler failed")
	}
}

// SendPacket sends packet to the server as if the client did, then hands it
// to the handler.
func (c *Client) SendPacket(ctx context.Context, packet string) error {
	err := c.sync.Synchronize(ctx, func() error {
		return c.binding.Network().SendPacket(packet)
	})
	if err != nil {
		return fmt.Errorf("send packet: %w", err)
	}
	c.log.Debug().Str("packet", packet).Msg("[CLIENT] sent packet")
	c.handle(ctx, FromClient, packet)
	return nil
}

// ReceivePacket makes the client process packet as if the server sent it.
func (c *Client) ReceivePacket(ctx context.Context, packet string) error {
	err := c.sync.Synchronize(ctx, func() error {
		return c.binding.Network().ReceivePacket(packet)
	})
	if err != nil {
		return fmt.Errorf("receive packet: %w", err)
	}
	c.log.Debug().Str("packet", packet).Msg("[CLIENT] received packet")
	c.handle(ctx, FromServer, packet)
	return nil
}

// guarded runs action on the game thread inside the user-action guard. Once
// queued the action runs even if ctx ends, so it gets a context that does
// not.
func guarded[T any](ctx context.Context, c *Client, action func(ctx context.Context) (T, error)) (T, error) {
	return synchronizer.Call(ctx, c.sync, func() (T, error) {
		return action(context.WithoutCancel(ctx))
	})
}

func (c *Client) Walk(ctx context.Context, x, y uint16) (bool, error) {
	return guarded(ctx, c, func(ctx context.Context) (bool, error) {
		return c.detector.NotUserWalk(ctx, c.binding.PlayerManager(), x, y)
	})
}

// PetWalk moves the pet at index selector of the pet list.
func (c *Client) PetWalk(ctx context.Context, selector int, x, y uint16) (bool, error) {
	return guarded(ctx, c, func(ctx context.Context) (bool, error) {
		return c.detector.NotUserPetWalk(ctx, c.binding.PetManager(), selector, x, y)
	})
}

func (c *Client) FocusEntity(ctx context.Context, entity browser.MapObject) error {
	_, err := guarded(ctx, c, func(ctx context.Context) (struct{}, error) {
		return useraction.NotUserAction(ctx, c.detector, func() (struct{}, error) {
			return struct{}{}, c.binding.UnitManager().FocusEntity(entity)
		})
	})
	return err
}

func (c *Client) FollowEntity(ctx context.Context, entity browser.MapObject) (bool, error) {
	return guarded(ctx, c, func(ctx context.Context) (bool, error) {
		return useraction.NotUserAction(ctx, c.detector, func() (bool, error) {
			return c.binding.PlayerManager().FollowEntity(entity)
		})
	})
}

func (c *Client) UnfollowEntity(ctx context.Context) error {
	_, err := guarded(ctx, c, func(ctx context.Context) (struct{}, error) {
		return useraction.NotUserAction(ctx, c.detector, func() (struct{}, error) {
			return struct{}{}, c.binding.PlayerManager().UnfollowEntity()
		})
	})
	return err
}
