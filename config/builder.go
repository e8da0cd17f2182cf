package config

// HookOptionsBuilder edits a single hook inside a Builder.
type HookOptionsBuilder struct {
	opts *HookOptions
}

func (b HookOptionsBuilder) Enabled(enabled bool) HookOptionsBuilder {
	b.opts.Enabled = enabled
	return b
}

func (b HookOptionsBuilder) Pattern(pattern string) HookOptionsBuilder {
	b.opts.Pattern = pattern
	return b
}

func (b HookOptionsBuilder) Offset(offset int) HookOptionsBuilder {
	b.opts.Offset = offset
	return b
}

// Builder assembles a Hooks value starting from DefaultHooks.
//
//	hooks := config.NewBuilder().
//		HookNone().
//		HookPacketReceive(func(b config.HookOptionsBuilder) { b.Pattern("AA BB ?? DD") }).
//		Build()
type Builder struct {
	hooks Hooks
}

func NewBuilder() *Builder {
	return &Builder{hooks: DefaultHooks()}
}

// From starts a builder from existing options, e.g. a loaded file.
func From(hooks Hooks) *Builder {
	return &Builder{hooks: hooks}
}

func (b *Builder) HookAll() *Builder {
	for _, h := range b.hooks.all() {
		h.Enabled = true
	}
	return b
}

func (b *Builder) HookNone() *Builder {
	for _, h := range b.hooks.all() {
		h.Enabled = false
	}
	return b
}

// HookNetworking turns on packet send and receive, leaving the rest as is.
func (b *Builder) HookNetworking() *Builder {
	b.hooks.PacketSend.Enabled = true
	b.hooks.PacketReceive.Enabled = true
	return b
}

func (b *Builder) hook(opts *HookOptions, configure []func(HookOptionsBuilder)) *Builder {
	opts.Enabled = true
	for _, c := range configure {
		c(HookOptionsBuilder{opts: opts})
	}
	return b
}

func (b *Builder) HookPacketSend(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.PacketSend, configure)
}

func (b *Builder) HookPacketReceive(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.PacketReceive, configure)
}

func (b *Builder) HookPlayerWalk(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.PlayerWalk, configure)
}

func (b *Builder) HookPetWalk(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.PetWalk, configure)
}

func (b *Builder) HookEntityFollow(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.EntityFollow, configure)
}

func (b *Builder) HookEntityUnfollow(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.EntityUnfollow, configure)
}

func (b *Builder) HookEntityFocus(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.EntityFocus, configure)
}

func (b *Builder) HookPeriodic(configure ...func(HookOptionsBuilder)) *Builder {
	return b.hook(&b.hooks.Periodic, configure)
}

// Build returns a copy; later builder calls do not affect it.
func (b *Builder) Build() Hooks {
	return b.hooks
}
