package binding

import (
	"strings"
	"sync/atomic"

	"nosbind/browser"
	"nosbind/hooks"
)

// Network sends and receives packets and reports the ones the client
// handles on its own.
type Network struct {
	m          *Manager
	latched    bool
	cancelSeen atomic.Bool
}

// attachLatch puts the cancel latch in front of every other receive handler
// once the receive hook exists.
func (n *Network) attachLatch() {
	if n.latched || !n.m.opts.Config.Client.SuppressFirstCancel || !n.m.IsHookPresent(hooks.PacketReceiveName) {
		return
	}
	n.m.hooks.PacketReceive().Subscribe(n.suppressFirstCancel)
	n.latched = true
}

// suppressFirstCancel drops the first cancel packet the client receives.
// Some servers send one right after login that crashes the client.
// TODO: find which field of that packet the client chokes on and drop this
// latch once it is understood.
func (n *Network) suppressFirstCancel(packet string) bool {
	if !strings.HasPrefix(packet, "cancel") {
		return true
	}
	if n.cancelSeen.CompareAndSwap(false, true) {
		n.m.log.Debug().Str("packet", packet).Msg("[BINDING] suppressed first cancel packet")
		return false
	}
	return true
}

func (n *Network) SendPacket(packet string) error {
	return n.m.hooks.PacketSend().Send(packet)
}

func (n *Network) ReceivePacket(packet string) error {
	return n.m.hooks.PacketReceive().Receive(packet)
}

// OnPacketSend registers fn for packets the client sends. Returning false
// keeps the packet from reaching the server.
func (n *Network) OnPacketSend(fn func(packet string) bool) (unsubscribe func()) {
	return n.m.hooks.PacketSend().Subscribe(fn)
}

// OnPacketReceive registers fn for packets the client receives. Returning
// false keeps the client from processing the packet.
func (n *Network) OnPacketReceive(fn func(packet string) bool) (unsubscribe func()) {
	return n.m.hooks.PacketReceive().Subscribe(fn)
}

func (n *Network) EnableHooks() error {
	return n.m.hooks.Enable(hooks.PacketReceiveName, hooks.PacketSendName)
}

func (n *Network) DisableHooks() error {
	return n.m.hooks.Disable(hooks.PacketReceiveName, hooks.PacketSendName)
}

// PlayerManager moves the local character.
type PlayerManager struct {
	m *Manager
}

var playerHooks = []string{hooks.PlayerWalkName, hooks.EntityFollowName, hooks.EntityUnfollowName}

func (p *PlayerManager) Player() (browser.MapObject, error) {
	return p.m.browser.PlayerManager().Player()
}

func (p *PlayerManager) Position() (x, y int16, err error) {
	player, err := p.Player()
	if err != nil {
		return 0, 0, err
	}
	return player.Position()
}

func (p *PlayerManager) Walk(x, y uint16) (bool, error) {
	return p.m.hooks.PlayerWalk().Walk(x, y)
}

func (p *PlayerManager) FollowEntity(entity browser.MapObject) (bool, error) {
	return p.m.hooks.EntityFollow().Follow(entity)
}

func (p *PlayerManager) UnfollowEntity() error {
	return p.m.hooks.EntityUnfollow().Unfollow()
}

// OnWalk registers fn for walks the client starts on its own.
func (p *PlayerManager) OnWalk(fn func(hooks.WalkEvent) bool) (unsubscribe func()) {
	return p.m.hooks.PlayerWalk().Subscribe(fn)
}

// OnFollow registers fn for follow and unfollow calls; unfollow arrives with
// a nil entity. Either hook may be missing.
func (p *PlayerManager) OnFollow(fn func(hooks.EntityEvent) bool) (unsubscribe func()) {
	var subs []func()
	if p.m.IsHookPresent(hooks.EntityFollowName) {
		subs = append(subs, p.m.hooks.EntityFollow().Subscribe(fn))
	}
	if p.m.IsHookPresent(hooks.EntityUnfollowName) {
		subs = append(subs, p.m.hooks.EntityUnfollow().Subscribe(fn))
	}
	if len(subs) == 0 {
		panic(notInitialized("follow hook"))
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}

func (p *PlayerManager) EnableHooks() error  { return p.m.hooks.Enable(p.present(playerHooks)...) }
func (p *PlayerManager) DisableHooks() error { return p.m.hooks.Disable(p.present(playerHooks)...) }

func (p *PlayerManager) present(names []string) []string {
	var out []string
	for _, name := range names {
		if p.m.IsHookPresent(name) {
			out = append(out, name)
		}
	}
	return out
}

// UnitManager controls the player's target.
type UnitManager struct {
	m *Manager
}

func (u *UnitManager) Address() (uintptr, error) {
	return u.m.browser.UnitManager().Address()
}

func (u *UnitManager) Focused() (browser.MapObject, error) {
	return u.m.browser.UnitManager().Focused()
}

func (u *UnitManager) FocusEntity(entity browser.MapObject) error {
	return u.m.hooks.EntityFocus().Focus(entity)
}

func (u *UnitManager) OnFocus(fn func(hooks.EntityEvent) bool) (unsubscribe func()) {
	return u.m.hooks.EntityFocus().Subscribe(fn)
}

func (u *UnitManager) EnableHooks() error  { return u.m.hooks.Enable(hooks.EntityFocusName) }
func (u *UnitManager) DisableHooks() error { return u.m.hooks.Disable(hooks.EntityFocusName) }

// PetManager moves pets and partners.
type PetManager struct {
	m *Manager
}

func (p *PetManager) Count() (int, error) {
	return p.m.browser.PetManagerList().Len()
}

// PetWalk moves the pet at index selector of the pet list.
func (p *PetManager) PetWalk(selector int, x, y uint16) (bool, error) {
	pet, err := p.m.browser.PetManagerList().At(selector)
	if err != nil {
		return false, err
	}
	return p.m.hooks.PetWalk().Walk(pet, x, y)
}

func (p *PetManager) OnPetWalk(fn func(hooks.PetWalkEvent) bool) (unsubscribe func()) {
	return p.m.hooks.PetWalk().Subscribe(fn)
}

func (p *PetManager) EnableHooks() error  { return p.m.hooks.Enable(hooks.PetWalkName) }
func (p *PetManager) DisableHooks() error { return p.m.hooks.Disable(hooks.PetWalkName) }

// Periodic is the game thread's tick.
type Periodic struct {
	m *Manager
}

func (p *Periodic) OnTick(fn func()) (unsubscribe func()) {
	return p.m.hooks.Periodic().Subscribe(fn)
}

func (p *Periodic) EnableHooks() error  { return p.m.hooks.Enable(hooks.PeriodicName) }
func (p *Periodic) DisableHooks() error { return p.m.hooks.Disable(hooks.PeriodicName) }
