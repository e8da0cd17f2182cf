package config

// HookOptions locates one native function and decides whether its detour is
// spliced in right after creation.
type HookOptions struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	// Offset is added to the match, for patterns that start before the
	// function entry.
	Offset int `mapstructure:"offset" yaml:"offset"`
}

type Hooks struct {
	PacketSend     HookOptions `mapstructure:"packet_send" yaml:"packet_send"`
	PacketReceive  HookOptions `mapstructure:"packet_receive" yaml:"packet_receive"`
	PlayerWalk     HookOptions `mapstructure:"player_walk" yaml:"player_walk"`
	PetWalk        HookOptions `mapstructure:"pet_walk" yaml:"pet_walk"`
	EntityFollow   HookOptions `mapstructure:"entity_follow" yaml:"entity_follow"`
	EntityUnfollow HookOptions `mapstructure:"entity_unfollow" yaml:"entity_unfollow"`
	EntityFocus    HookOptions `mapstructure:"entity_focus" yaml:"entity_focus"`
	Periodic       HookOptions `mapstructure:"periodic" yaml:"periodic"`
}

// DefaultHooks matches the current client build. Networking and the periodic
// tick are on, everything that moves the character is off.
func DefaultHooks() Hooks {
	return Hooks{
		PacketSend: HookOptions{
			Enabled: true,
			Pattern: "53 56 8B F2 8B D8 EB 04",
		},
		PacketReceive: HookOptions{
			Enabled: true,
			Pattern: "55 8B EC 83 C4 ?? 53 56 57 33 C9 89 4D ?? 89 4D ?? 89 55 ?? 8B D8 8B 45 ??",
		},
		PlayerWalk: HookOptions{
			Pattern: "55 8B EC 83 C4 EC 53 56 57 66 89 4D FA",
		},
		PetWalk: HookOptions{
			Pattern: "55 8b ec 83 c4 e4 53 56 57 8b f9 89 55 fc 8b d8 c6 45 fb 00",
		},
		EntityFollow: HookOptions{
			Pattern: "55 8B EC 51 53 56 57 88 4D FF 8B F2 8B F8",
		},
		EntityUnfollow: HookOptions{
			Pattern: "80 78 14 00 74 1A",
		},
		EntityFocus: HookOptions{
			Pattern: "73 00 00 00 55 8b ec b9 05 00 00 00",
			Offset:  4,
		},
		Periodic: HookOptions{
			Enabled: true,
			Pattern: "55 8B EC 53 56 83 C4",
		},
	}
}

// all lists every hook slot, used by the bulk builder switches.
func (h *Hooks) all() []*HookOptions {
	return []*HookOptions{
		&h.PacketSend, &h.PacketReceive, &h.PlayerWalk, &h.PetWalk,
		&h.EntityFollow, &h.EntityUnfollow, &h.EntityFocus, &h.Periodic,
	}
}
