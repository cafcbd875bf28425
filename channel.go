package psychics

import "fmt"

// Channel is the pending completion of a channeled cast. At most one channel
// is live per ability and per runtime; a superseded or interrupted channel
// is marked invalid and never fires.
type Channel struct {
	ability   *Ability
	startTick int64
	fireTick  int64
	args      []any
	valid     bool
}

// Ability returns the channeling ability.
func (c *Channel) Ability() *Ability {
	return c.ability
}

// StartTick returns the tick the channel started at.
func (c *Channel) StartTick() int64 {
	return c.startTick
}

// FireTick returns the tick the cast completes at.
func (c *Channel) FireTick() int64 {
	return c.fireTick
}

// Duration returns the channel length in ticks.
func (c *Channel) Duration() int64 {
	return c.fireTick - c.startTick
}

// Args returns the arguments captured when the cast was committed.
func (c *Channel) Args() []any {
	return append([]any(nil), c.args...)
}

// Valid reports whether the channel can still fire.
func (c *Channel) Valid() bool {
	return c.valid
}

// Remaining returns the ticks left before the channel fires, never negative.
func (c *Channel) Remaining(now int64) int64 {
	return max(c.fireTick-now, 0)
}

// Progress returns the completed fraction of the channel in [0, 1].
func (c *Channel) Progress(now int64) float64 {
	d := c.Duration()
	if d <= 0 {
		return 1
	}
	p := float64(now-c.startTick) / float64(d)
	return min(max(p, 0), 1)
}

// String returns a string representation of the channel.
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ability=%s, fire=%d, valid=%t}", c.ability.Name(), c.fireTick, c.valid)
}
