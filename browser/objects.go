package browser

import (
	"fmt"

	"nosbind/config"
	"nosbind/memory"
)

// object is a client structure reached from a static address through a
// pointer chain. The chain is walked on every access because the client
// recreates most managers on login and map change.
type object struct {
	mem     memory.Reader
	static  uintptr
	offsets []int
}

func (o object) Address() (uintptr, error) {
	return memory.FollowStaticAddressOffsets(o.mem, o.static, o.offsets, 0)
}

func (o object) field(offset int) (uintptr, error) {
	addr, err := o.Address()
	if err != nil {
		return 0, err
	}
	return memory.ReadPtr(o.mem, addr+uintptr(offset))
}

// MapObject is any entity placed on the map: players, monsters, npcs, pets.
type MapObject struct {
	mem     memory.Reader
	Address uintptr
}

func NewMapObject(mem memory.Reader, addr uintptr) MapObject {
	return MapObject{mem: mem, Address: addr}
}

func (o MapObject) IsNil() bool { return o.Address == 0 }

func (o MapObject) ID() (uint32, error) {
	if err := memory.CheckPtr(o.Address); err != nil {
		return 0, err
	}
	return memory.ReadU32(o.mem, o.Address+config.OffMapObjectID)
}

func (o MapObject) Position() (x, y int16, err error) {
	if err = memory.CheckPtr(o.Address); err != nil {
		return 0, 0, err
	}
	if x, err = memory.ReadI16(o.mem, o.Address+config.OffMapObjectX); err != nil {
		return 0, 0, err
	}
	if y, err = memory.ReadI16(o.mem, o.Address+config.OffMapObjectY); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// NetworkManager owns the objects the packet functions are called on.
type NetworkManager struct{ object }

// SendAddress is the object PacketSend expects in eax.
func (n *NetworkManager) SendAddress() (uintptr, error) { return n.Address() }

// ReceiveAddress is the object PacketReceive expects in eax.
func (n *NetworkManager) ReceiveAddress() (uintptr, error) {
	return n.field(config.OffNetworkReceiveObject)
}

type UnitManager struct{ object }

// Focused is the entity currently targeted by the player.
func (u *UnitManager) Focused() (MapObject, error) {
	addr, err := u.field(config.OffUnitManagerFocused)
	return NewMapObject(u.mem, addr), err
}

type PlayerManager struct{ object }

// Player is the local character.
func (p *PlayerManager) Player() (MapObject, error) {
	addr, err := p.field(config.OffPlayerManagerPlayer)
	if err != nil {
		return MapObject{}, err
	}
	return NewMapObject(p.mem, addr), nil
}

func (p *PlayerManager) PlayerID() (uint32, error) {
	addr, err := p.Address()
	if err != nil {
		return 0, err
	}
	return memory.ReadU32(p.mem, addr+config.OffPlayerManagerPlayerID)
}

// PetManagerList is the Delphi list of the player's pet managers.
type PetManagerList struct{ object }

func (l *PetManagerList) Len() (int, error) {
	addr, err := l.Address()
	if err != nil {
		return 0, err
	}
	n, err := memory.ReadI32(l.mem, addr+config.OffPetListCount)
	return int(n), err
}

func (l *PetManagerList) At(i int) (PetManager, error) {
	n, err := l.Len()
	if err != nil {
		return PetManager{}, err
	}
	if i < 0 || i >= n {
		return PetManager{}, fmt.Errorf("pet %d out of range [0, %d)", i, n)
	}
	items, err := l.field(config.OffPetListItems)
	if err != nil {
		return PetManager{}, err
	}
	if err := memory.CheckPtr(items); err != nil {
		return PetManager{}, fmt.Errorf("pet list items: %w", err)
	}
	addr, err := memory.ReadPtr(l.mem, items+uintptr(i*memory.PointerSize))
	if err != nil {
		return PetManager{}, err
	}
	return NewPetManager(l.mem, addr), nil
}

// PetManager controls one pet or partner.
type PetManager struct {
	mem     memory.Reader
	Address uintptr
}

func NewPetManager(mem memory.Reader, addr uintptr) PetManager {
	return PetManager{mem: mem, Address: addr}
}

func (p PetManager) Pet() (MapObject, error) {
	if err := memory.CheckPtr(p.Address); err != nil {
		return MapObject{}, err
	}
	addr, err := memory.ReadPtr(p.mem, p.Address+config.OffPetManagerPet)
	return NewMapObject(p.mem, addr), err
}
