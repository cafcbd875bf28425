package psychics

import (
	"time"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"go.uber.org/zap"
)

// WandHandler routes player input to the player's psychic: using an item
// casts the ability whose wand matches it, taking damage interrupts an
// interruptible channel and quitting saves and releases the owner. Events
// are first delegated to the wrapped handler.
//
// Concurrency:
// Dragonfly runs handlers inside the player's world transaction while the
// driver ticks runtimes on its own workers; every call into a runtime goes
// through Runtime.Do.
type WandHandler struct {
	player.Handler
	manager *Manager
}

// NewWandHandler creates a handler for m wrapping next. A nil next is
// replaced by player.NopHandler.
//
//	for p := range srv.Accept() {
//	    if _, err := mngr.Join(p); err != nil {
//	        p.Disconnect("failed to load psychic")
//	        continue
//	    }
//	    p.Handle(psychics.NewWandHandler(mngr, nil))
//	}
func NewWandHandler(m *Manager, next player.Handler) *WandHandler {
	if next == nil {
		next = player.NopHandler{}
	}
	return &WandHandler{Handler: next, manager: m}
}

// Manager returns the manager the handler reports to.
func (h *WandHandler) Manager() *Manager {
	return h.manager
}

// Compile-time check that WandHandler implements player.Handler.
var _ player.Handler = (*WandHandler)(nil)

// HandleItemUse casts the ability bound to the main hand item.
func (h *WandHandler) HandleItemUse(ctx *player.Context) {
	h.Handler.HandleItemUse(ctx)
	if ctx.Cancelled() {
		return
	}
	h.castHeld(ctx.Val())
}

// HandleItemUseOnEntity casts the ability bound to the main hand item.
func (h *WandHandler) HandleItemUseOnEntity(ctx *player.Context, e world.Entity) {
	h.Handler.HandleItemUseOnEntity(ctx, e)
	if ctx.Cancelled() {
		return
	}
	h.castHeld(ctx.Val())
}

// HandleHurt interrupts the active channel if its ability allows it.
func (h *WandHandler) HandleHurt(ctx *player.Context, damage *float64, immune bool, attackImmunity *time.Duration, src world.DamageSource) {
	h.Handler.HandleHurt(ctx, damage, immune, attackImmunity, src)
	if ctx.Cancelled() || immune || *damage <= 0 {
		return
	}

	rt, ok := h.manager.Runtime(ctx.Val().UUID())
	if !ok {
		return
	}
	rt.Do(func(r *Runtime) {
		if r.Valid() {
			_, _ = r.TryInterruptChannel()
		}
	})
}

// HandleQuit saves and releases the owner.
func (h *WandHandler) HandleQuit(p *player.Player) {
	h.Handler.HandleQuit(p)
	if err := h.manager.Leave(p.UUID()); err != nil {
		h.manager.log.Debug("psychics: leave", zap.String("owner", p.Name()), zap.Error(err))
	}
}

func (h *WandHandler) castHeld(p *player.Player) {
	held, _ := p.HeldItems()
	if held.Empty() {
		return
	}
	if _, err := h.manager.CastByItem(p.UUID(), held); err != nil {
		h.manager.log.Debug("psychics: cast by item", zap.String("owner", p.Name()), zap.Error(err))
	}
}
