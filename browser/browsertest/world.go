// Package browsertest builds a synthetic client image with every manager
// object in place, for tests of the packages above browser.
package browsertest

import (
	"encoding/binary"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/memory"
	"nosbind/process"
	"nosbind/scanner"
)

const (
	ModuleBase uintptr = 0x400000
	ModuleSize         = 0x1000

	// HookArea is where tests may place function signatures. The manager
	// patterns live from 0x400 on.
	HookArea = 0x100

	NetworkSend    uintptr = 0x610000
	NetworkReceive uintptr = 0x620000
	UnitManager    uintptr = 0x700000
	Focused        uintptr = 0x710000
	PlayerManager  uintptr = 0x800000
	Player         uintptr = 0x810000
	PetList        uintptr = 0x900000
	PetManager     uintptr = 0x920000
	Pet            uintptr = 0x930000

	PlayerID  = 77
	FocusedID = 1234
	PetID     = 4321
)

var Executable = filepath.Join("games", "NosTale", "NostaleClientX.exe")

// World is a client image plus the filesystem it runs from.
type World struct {
	Image   *memory.Image
	Module  scanner.Module
	Fs      afero.Fs
	Objects config.Browser
}

func put32(b []byte, off int, v uintptr) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}

// New lays out the four managers the way the client does: an instruction
// referencing a global that points at the manager.
func New() *World {
	w := &World{
		Image:  memory.NewImage(),
		Module: scanner.Module{Name: "NostaleClientX.exe", Base: ModuleBase, Size: ModuleSize},
		Fs:     afero.NewMemMapFs(),
	}
	_ = w.Fs.MkdirAll(filepath.Join(filepath.Dir(Executable), process.DataDirectory), 0o755)

	code := make([]byte, ModuleSize)
	globals := uintptr(0x500000)
	place := func(off int, tag byte, target uintptr) config.ObjectOptions {
		code[off], code[off+1], code[off+2] = tag, tag, 0xA1
		global := globals + uintptr(off)
		put32(code, off+3, global)
		w.Image.MapU32(global, uint32(target))
		return config.ObjectOptions{
			Pattern: pattern(tag),
			Offsets: []int{3, 0},
		}
	}

	w.Objects.NetworkManager = place(0x400, 0x11, 0x600000)
	// the network manager sits one more pointer away
	w.Objects.NetworkManager.Offsets = []int{3, 0, 0}
	w.Image.MapU32(0x600000, uint32(NetworkSend))
	w.Image.Map(NetworkSend, make([]byte, 0x40))
	w.Image.MapU32(NetworkSend+config.OffNetworkReceiveObject, uint32(NetworkReceive))

	w.Objects.UnitManager = place(0x420, 0x22, UnitManager)
	w.Image.Map(UnitManager, make([]byte, 0x10))
	w.Image.MapU32(UnitManager+config.OffUnitManagerFocused, uint32(Focused))
	w.mapObject(Focused, FocusedID, 30, 40)

	w.Objects.PlayerManager = place(0x440, 0x33, PlayerManager)
	w.Image.Map(PlayerManager, make([]byte, 0x30))
	w.Image.MapU32(PlayerManager+config.OffPlayerManagerPlayer, uint32(Player))
	w.Image.MapU32(PlayerManager+config.OffPlayerManagerPlayerID, PlayerID)
	w.mapObject(Player, PlayerID, 10, 20)

	w.Objects.PetManagerList = place(0x460, 0x44, PetList)
	w.Image.Map(PetList, make([]byte, 0x10))
	w.Image.MapU32(PetList+config.OffPetListItems, uint32(PetList+0x10000))
	w.Image.MapU32(PetList+config.OffPetListCount, 1)
	w.Image.MapU32(PetList+0x10000, uint32(PetManager))
	w.Image.Map(PetManager, make([]byte, 0x80))
	w.Image.MapU32(PetManager+config.OffPetManagerPet, uint32(Pet))
	w.mapObject(Pet, PetID, 11, 21)

	w.Image.Map(ModuleBase, code)
	return w
}

func pattern(tag byte) string {
	const hex = "0123456789ABCDEF"
	b := string([]byte{hex[tag>>4], hex[tag&0xF]})
	return b + " " + b + " A1 ?? ?? ?? ??"
}

func (w *World) mapObject(addr uintptr, id uint32, x, y int16) {
	obj := make([]byte, 0x10)
	binary.LittleEndian.PutUint32(obj[config.OffMapObjectID:], id)
	binary.LittleEndian.PutUint16(obj[config.OffMapObjectX:], uint16(x))
	binary.LittleEndian.PutUint16(obj[config.OffMapObjectY:], uint16(y))
	w.Image.Map(addr, obj)
}

// Place writes data into the module at off, e.g. a function signature.
// It must run before the first scan.
func (w *World) Place(off int, data []byte) uintptr {
	addr := ModuleBase + uintptr(off)
	if err := w.Image.Write(addr, data); err != nil {
		panic(err)
	}
	return addr
}

// MovePlayer updates the player's position.
func (w *World) MovePlayer(x, y int16) {
	var b [4]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(x))
	binary.LittleEndian.PutUint16(b[2:], uint16(y))
	if err := w.Image.Write(Player+config.OffMapObjectX, b[:]); err != nil {
		panic(err)
	}
}

func (w *World) Scanner() *scanner.Scanner {
	return scanner.New(w.Image, w.Module)
}

// Browser returns a manager over the world, not yet initialized.
func (w *World) Browser(sc *scanner.Scanner) *browser.Manager {
	return browser.New(browser.Options{
		Memory:     w.Image,
		Scanner:    sc,
		Fs:         w.Fs,
		Executable: Executable,
		Objects:    w.Objects,
		Logger:     zerolog.Nop(),
	})
}
