package hooks

import (
	"fmt"

	"nosbind/config"
	"nosbind/hook"
	"nosbind/memory"
)

// packetConvention is shared by send and receive: the network object in eax,
// the AnsiString characters in edx.
var packetConvention = hook.RegisterCall(2, 0)

// packetHook runs its handlers before the client function body and returns
// to the caller right away when one of them vetoes.
type packetHook struct {
	base
	calls  event[string]
	mem    memory.Accessor
	object func() (uintptr, error)
}

func newPacketHook(e *env, name string, object func() (uintptr, error)) *packetHook {
	h := &packetHook{mem: e.factory.Memory(), object: object}
	h.base.name, h.base.log = name, e.log
	h.calls.name, h.calls.log = name, e.log
	return h
}

func (h *packetHook) create(e *env, opts config.HookOptions) error {
	return h.install(func(o config.HookOptions) (*hook.Handle, error) {
		return e.factory.CreateCancelableHookFromPattern(h.name, packetConvention, h.predicate, o)
	}, opts)
}

func (h *packetHook) predicate(args []uintptr) bool {
	if h.fromUs() {
		return true
	}
	packet, err := memory.ReadNativeString(h.mem, args[1], maxPacketLength)
	if err != nil {
		h.log.Warn().Err(err).Str("hook", h.name).Msg("[HOOK] unreadable packet, letting it through")
		return true
	}
	return h.calls.raise(packet)
}

// Subscribe registers a handler for packets the client handles on its own.
// Returning false drops the packet.
func (h *packetHook) Subscribe(fn func(packet string) bool) (unsubscribe func()) {
	return h.calls.subscribe(fn)
}

func (h *packetHook) call(packet string) error {
	obj, err := h.object()
	if err != nil {
		return fmt.Errorf("%s: network object: %w", h.name, err)
	}
	return memory.WithNativeString(h.mem, packet, func(ptr uintptr) error {
		_, err := h.callThrough(obj, ptr)
		return err
	})
}

type PacketSendHook struct{ *packetHook }

// Send hands packet to the client as if the game had sent it.
func (h PacketSendHook) Send(packet string) error { return h.call(packet) }

func newPacketSend(e *env) (Hook, error) {
	if !e.browser.Has("NetworkManager") {
		return nil, fmt.Errorf("%w: NetworkManager", ErrMissingModule)
	}
	network := e.browser.NetworkManager()
	h := PacketSendHook{newPacketHook(e, PacketSendName, network.SendAddress)}
	if err := h.create(e, e.opts.PacketSend); err != nil {
		return nil, err
	}
	return h, nil
}

type PacketReceiveHook struct{ *packetHook }

// Receive makes the client process packet as if the server had sent it.
func (h PacketReceiveHook) Receive(packet string) error { return h.call(packet) }

func newPacketReceive(e *env) (Hook, error) {
	if !e.browser.Has("NetworkManager") {
		return nil, fmt.Errorf("%w: NetworkManager", ErrMissingModule)
	}
	network := e.browser.NetworkManager()
	h := PacketReceiveHook{newPacketHook(e, PacketReceiveName, network.ReceiveAddress)}
	if err := h.create(e, e.opts.PacketReceive); err != nil {
		return nil, err
	}
	return h, nil
}
