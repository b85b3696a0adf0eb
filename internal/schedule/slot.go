package schedule

import "time"

// horizonDays is how many calendar days (including today) NextSlot scans
// before giving up on uniqueness.
const horizonDays = 8

// NextSlot returns the earliest free publication moment: the first
// (day, template time) combination within the next horizonDays days that is
// not occupied, scanning days outward from now and template times in
// ascending order. Times strictly before now on day zero are skipped, so a
// template time equal to now is still eligible.
//
// If every slot in the horizon is taken, the fallback is the earliest
// template time seven days out WITHOUT an occupancy check. That fallback may
// collide with an existing post; it is a deliberate best-effort liveness
// choice, not a uniqueness guarantee.
//
// NextSlot is pure: now is explicit and the queue is passed in, so calling
// it twice with the same inputs yields the same result.
func NextSlot(t Template, occupied []time.Time, now time.Time) time.Time {
	busy := make(map[string]struct{}, len(occupied))
	for _, o := range occupied {
		busy[o.Format(SlotLayout)] = struct{}{}
	}

	for day := 0; day < horizonDays; day++ {
		date := now.AddDate(0, 0, day)
		for _, tod := range t.times {
			candidate := tod.On(date)
			if day == 0 && candidate.Before(now) {
				continue
			}
			if _, taken := busy[candidate.Format(SlotLayout)]; !taken {
				return candidate
			}
		}
	}

	return t.times[0].On(now.AddDate(0, 0, 7))
}
