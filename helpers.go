package psychics

import (
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/player/form"
)

// getRuntimeFromPlayer resolves the runtime through the player's WandHandler.
// Returns nil if the player has no WandHandler or no psychic.
func getRuntimeFromPlayer(p *player.Player) *Runtime {
	h, ok := p.Handler().(*WandHandler)
	if !ok {
		return nil
	}
	rt, ok := h.manager.Runtime(p.UUID())
	if !ok {
		return nil
	}
	return rt
}

// Command extracts the player and runtime from a command source.
// Returns (nil, nil) if the source is not a player, and a nil runtime if the
// player has no psychic.
//
// Usage:
//
//	func (c ManaCommand) Run(src cmd.Source, out *cmd.Output, tx *world.Tx) {
//	    p, rt := psychics.Command(src)
//	    if p == nil || rt == nil {
//	        out.Error("Esper-only command")
//	        return
//	    }
//	    rt.Do(func(r *psychics.Runtime) {
//	        out.Printf("%.0f/%.0f", r.Mana(), r.MaxMana())
//	    })
//	}
func Command(src cmd.Source) (*player.Player, *Runtime) {
	p, ok := src.(*player.Player)
	if !ok {
		return nil, nil
	}
	return p, getRuntimeFromPlayer(p)
}

// Form extracts the player and runtime from a form submitter.
func Form(sub form.Submitter) (*player.Player, *Runtime) {
	p, ok := sub.(*player.Player)
	if !ok {
		return nil, nil
	}
	return p, getRuntimeFromPlayer(p)
}

// Item extracts the player and runtime from an item user.
//
// Usage:
//
//	func (w Wand) Use(tx *world.Tx, user item.User, ctx *item.UseContext) bool {
//	    _, rt := psychics.Item(user)
//	    if rt == nil {
//	        return false
//	    }
//	    ...
//	}
func Item(user item.User) (*player.Player, *Runtime) {
	p, ok := user.(*player.Player)
	if !ok {
		return nil, nil
	}
	return p, getRuntimeFromPlayer(p)
}
