package psychics

// Observer receives the progress observables of a runtime: mana changes and
// the life of a channel. Implementations render them (boss bars, action bar
// text) and must not block. Callbacks run on the goroutine ticking the runtime.
type Observer interface {
	// ManaChanged is called at the end of a tick when the mana pool changed.
	ManaChanged(r *Runtime, mana, max float64)

	// ChannelStarted is called when a channeled cast is committed.
	ChannelStarted(r *Runtime, c *Channel)

	// ChannelProgress is called every tick a channel is pending.
	ChannelProgress(r *Runtime, c *Channel, progress float64)

	// ChannelEnded is called when a channel fires (completed) or is interrupted.
	ChannelEnded(r *Runtime, c *Channel, completed bool)
}

// NopObserver implements Observer with no-ops. Embed it to observe a subset.
type NopObserver struct{}

func (NopObserver) ManaChanged(*Runtime, float64, float64)      {}
func (NopObserver) ChannelStarted(*Runtime, *Channel)           {}
func (NopObserver) ChannelProgress(*Runtime, *Channel, float64) {}
func (NopObserver) ChannelEnded(*Runtime, *Channel, bool)       {}

var _ Observer = NopObserver{}
