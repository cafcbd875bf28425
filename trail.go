package psychics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Trail calls fn at points spaced interval apart on the segment from start
// to end, start included and end excluded, at least once. Trails of
// consecutive segments therefore never repeat the shared point. It is used to
// draw particle lines between a projectile's previous and current position.
func Trail(start, end mgl64.Vec3, interval float64, fn func(pos mgl64.Vec3)) {
	delta := end.Sub(start)
	length := delta.Len()
	if length == 0 || interval <= 0 {
		fn(start)
		return
	}
	TrailDir(start, delta.Mul(1/length), interval, max(1, int(math.Floor(length/interval))), fn)
}

// TrailDir calls fn count times, starting at start and stepping interval
// along the unit vector dir.
func TrailDir(start, dir mgl64.Vec3, interval float64, count int, fn func(pos mgl64.Vec3)) {
	step := dir.Mul(interval)
	pos := start
	for i := 0; i < count; i++ {
		fn(pos)
		pos = pos.Add(step)
	}
}
