package republish

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"
)

// fixWindow applies the inverted-range fixup: an end at or before start
// becomes a one hour window, clamped to 23.
func fixWindow(startHour, endHour int) (int, int) {
	if startHour < 0 {
		startHour = 0
	}
	if startHour > 23 {
		startHour = 23
	}
	if endHour <= startHour {
		endHour = startHour + 1
		if endHour > 23 {
			endHour = 23
		}
	}
	if endHour > 23 {
		endHour = 23
	}
	return startHour, endHour
}

// GenerateTimes returns count timestamps on now's calendar date, each with an
// hour uniform in [startHour, endHour] and minute/second uniform in [0,59].
//
// This is scheduling randomness, not security: any uniform PRNG suffices.
//
// With maintainOrder the list is sorted ascending so the i-th (oldest-first)
// selected item receives the i-th smallest time, preserving relative publish
// order. Without it, times are returned in generation order.
func GenerateTimes(rng *rand.Rand, now time.Time, count, startHour, endHour int, maintainOrder bool) []time.Time {
	if count <= 0 {
		return nil
	}
	startHour, endHour = fixWindow(startHour, endHour)

	times := make([]time.Time, count)
	for i := range times {
		times[i] = randomWindowTime(rng, now, startHour, endHour)
	}
	if maintainOrder {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	}
	return times
}

// RandomWindowTime is the single-item variant used by the retry pass.
func RandomWindowTime(rng *rand.Rand, now time.Time, startHour, endHour int) time.Time {
	startHour, endHour = fixWindow(startHour, endHour)
	return randomWindowTime(rng, now, startHour, endHour)
}

func randomWindowTime(rng *rand.Rand, now time.Time, startHour, endHour int) time.Time {
	hour := startHour + rng.Intn(endHour-startHour+1)
	minute := rng.Intn(60)
	second := rng.Intn(60)
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, now.Location())
}

// PreviewTimes computes the repeatable calendar preview: slots times of day
// for the given date, stable across process restarts for the same
// (identity, date, slot) triple.
//
// The window is split into equal-width segments, one per slot; each slot's
// offset inside its segment comes from hashing identity+date+slot. The
// result is always ascending, so it is informational only when
// maintain_order is off (a shuffled real run will not match it).
func PreviewTimes(identity string, date time.Time, slots, startHour, endHour int) []time.Time {
	if slots <= 0 {
		return nil
	}
	startHour, endHour = fixWindow(startHour, endHour)

	windowMin := (endHour - startHour + 1) * 60
	segment := windowMin / slots
	if segment < 1 {
		segment = 1
	}

	day := date.Format("2006-01-02")
	times := make([]time.Time, slots)
	for i := range times {
		offset := int(slotHash(identity, day, i) % uint64(segment))
		minuteOfDay := startHour*60 + i*segment + offset
		// Slots past the window (more slots than minutes) pile up at the end.
		if max := (endHour+1)*60 - 1; minuteOfDay > max {
			minuteOfDay = max
		}
		times[i] = time.Date(date.Year(), date.Month(), date.Day(),
			minuteOfDay/60, minuteOfDay%60, 0, 0, date.Location())
	}
	return times
}

func slotHash(identity, day string, slot int) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%d", identity, day, slot)
	return h.Sum64()
}
