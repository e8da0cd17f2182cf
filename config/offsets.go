package config

// ============================================================
// NOSTALE CLIENT STRUCT OFFSETS (32-bit NostaleClientX.exe)
// ============================================================

const (
	// ===== NETWORK MANAGER =====
	// [[[static+1]]] = send object, [send object + 0x34] = receive object
	OffNetworkReceiveObject = 0x34

	// ===== PLAYER MANAGER =====
	OffPlayerManagerPlayer   = 0x20 // MapObject of the local character
	OffPlayerManagerPlayerID = 0x24

	// ===== MAP OBJECT (players, monsters, npcs, pets) =====
	OffMapObjectID   = 0x08 // uint32
	OffMapObjectX    = 0x0C // int16
	OffMapObjectY    = 0x0E // int16

	// ===== PET MANAGER LIST (Delphi TList) =====
	OffPetListItems = 0x04 // pointer to the array of PetManager pointers
	OffPetListCount = 0x08

	// ===== PET MANAGER =====
	OffPetManagerPet = 0x7C // MapObject of the pet

	// ===== UNIT MANAGER =====
	OffUnitManagerFocused = 0x0C // currently focused MapObject
)
