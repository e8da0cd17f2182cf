// Package bindingtest runs a binding.Manager against a simulated client:
// a synthetic image from browsertest and functions defined in a
// hooktest.Process, one per hookable client function.
package bindingtest

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"nosbind/binding"
	"nosbind/browser/browsertest"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/hook/hooktest"
	"nosbind/hooks"
	"nosbind/memory"
)

// Conventions of the simulated client functions.
var Conventions = map[string]hook.Convention{
	hooks.PacketSendName:     hook.RegisterCall(2, 0),
	hooks.PacketReceiveName:  hook.RegisterCall(2, 0),
	hooks.PlayerWalkName:     hook.RegisterCall(3, 1),
	hooks.PetWalkName:        hook.RegisterCall(3, 1),
	hooks.EntityFollowName:   hook.RegisterCall(3, 1),
	hooks.EntityUnfollowName: hook.RegisterCall(2, 0),
	hooks.EntityFocusName:    hook.RegisterCall(2, 0),
	hooks.PeriodicName:       hook.NoArgs,
}

// Slot returns the options of the named hook.
func Slot(cfg *config.Hooks, name string) *config.HookOptions {
	if opts := hooks.Slot(cfg, name); opts != nil {
		return opts
	}
	panic(fmt.Sprintf("bindingtest: no hook named %s", name))
}

type Client struct {
	World   *browsertest.World
	Proc    *hooktest.Process
	Binding *binding.Manager
	// Addrs is where each client function lives.
	Addrs map[string]uintptr

	mu       sync.Mutex
	calls    map[string][][]uintptr
	packets  map[string][]string
	onNative map[string]func(args []uintptr)
}

// New places one signature per hook and builds the manager. configure may
// move functions or change options before anything is scanned. The manager
// is not initialized.
func New(configure func(c *Client, cfg *config.Config)) *Client {
	c := &Client{
		World:    browsertest.New(),
		Proc:     hooktest.New(),
		Addrs:    make(map[string]uintptr),
		calls:    make(map[string][][]uintptr),
		packets:  make(map[string][]string),
		onNative: make(map[string]func([]uintptr)),
	}

	cfg := config.Default()
	cfg.Browser = c.World.Objects
	for i, name := range hooks.Names() {
		tag := byte(0xA0 + i)
		c.Addrs[name] = c.World.Place(browsertest.HookArea+i*0x10, []byte{0xCC, tag, 0xCC, 0x90})
		opts := Slot(&cfg.Hooks, name)
		opts.Pattern = fmt.Sprintf("CC %02X CC 90", tag)
		opts.Offset = 0
	}
	if configure != nil {
		configure(c, &cfg)
	}
	for name, addr := range c.Addrs {
		c.Proc.Define(addr, Conventions[name], c.body(name))
	}

	c.Binding = binding.New(binding.Options{
		Memory:     c.World.Image,
		Backend:    c.Proc,
		Module:     c.World.Module,
		Fs:         c.World.Fs,
		Executable: browsertest.Executable,
		Config:     cfg,
		Logger:     zerolog.Nop(),
	})
	return c
}

func (c *Client) body(name string) hooktest.Body {
	return func(args []uintptr) uintptr {
		c.mu.Lock()
		c.calls[name] = append(c.calls[name], append([]uintptr(nil), args...))
		if name == hooks.PacketSendName || name == hooks.PacketReceiveName {
			packet, err := memory.ReadNativeString(c.World.Image, args[1], 1<<16)
			if err != nil {
				packet = "<unreadable>"
			}
			c.packets[name] = append(c.packets[name], packet)
		}
		fn := c.onNative[name]
		c.mu.Unlock()

		if fn != nil {
			fn(args)
		}
		return 1
	}
}

// OnNative runs fn inside the body of the named function on every call.
func (c *Client) OnNative(name string, fn func(args []uintptr)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNative[name] = fn
}

// Calls lists the arguments of every call that reached the named function.
func (c *Client) Calls(name string) [][]uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]uintptr(nil), c.calls[name]...)
}

// Packets lists the packets that reached a packet function.
func (c *Client) Packets(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.packets[name]...)
}

// Tick runs one frame of the game thread.
func (c *Client) Tick() {
	c.Proc.Call(c.Addrs[hooks.PeriodicName])
}

func (c *Client) packet(name string, object uintptr, packet string) uintptr {
	ns, err := memory.NewNativeString(c.World.Image, packet)
	if err != nil {
		panic(err)
	}
	defer ns.Release()
	return c.Proc.Call(c.Addrs[name], object, ns.Ptr())
}

// Send is the client sending a packet on its own.
func (c *Client) Send(packet string) uintptr {
	return c.packet(hooks.PacketSendName, browsertest.NetworkSend, packet)
}

// Receive is the client getting a packet from the server.
func (c *Client) Receive(packet string) uintptr {
	return c.packet(hooks.PacketReceiveName, browsertest.NetworkReceive, packet)
}

// Walk is the user clicking a cell.
func (c *Client) Walk(x, y uint16) uintptr {
	return c.Proc.Call(c.Addrs[hooks.PlayerWalkName], browsertest.PlayerManager, uintptr(y)<<16|uintptr(x), 0, 1)
}

// PetWalk is the user moving the first pet.
func (c *Client) PetWalk(x, y uint16) uintptr {
	return c.Proc.Call(c.Addrs[hooks.PetWalkName], browsertest.PetManager, uintptr(x)<<16|uintptr(y), 0, 1)
}

// Follow is the user following entity.
func (c *Client) Follow(entity uintptr) uintptr {
	return c.Proc.Call(c.Addrs[hooks.EntityFollowName], browsertest.PlayerManager, entity, 0, 1)
}

func (c *Client) Unfollow() uintptr {
	return c.Proc.Call(c.Addrs[hooks.EntityUnfollowName], browsertest.PlayerManager, 0)
}

func (c *Client) Focus(entity uintptr) uintptr {
	return c.Proc.Call(c.Addrs[hooks.EntityFocusName], browsertest.UnitManager, entity)
}
