// Package gm provides the General MIDI percussion mappings that keep
// generated pitches on playable drum sounds.
package gm

import (
	"fmt"
	"sort"
)

// Kit is a named set of percussion keys with human-readable labels.
// Its sorted keys form the valid-value lattice the generator snaps to.
type Kit struct {
	Name  string
	Notes map[int]string
}

// GeneralMIDI is the default kit: the General MIDI percussion sounds
// covered by most hardware and soft synths.
var GeneralMIDI = Kit{
	Name: "gm",
	Notes: map[int]string{
		36: "Bass Drum 1",
		37: "Side Stick",
		38: "Acoustic Snare",
		39: "Hand Clap",
		41: "Low Floor Tom",
		42: "Closed Hi-Hat",
		43: "High Floor Tom",
		45: "Low Tom",
		46: "Open Hi-Hat",
		49: "Crash Cymbal 1",
		51: "Ride Cymbal 1",
		56: "Cowbell",
		63: "Open Hi Conga",
		64: "Low Conga",
		70: "Maracas",
		75: "Claves",
	},
}

var kits = map[string]Kit{
	"gm": GeneralMIDI,
}

// KitByName looks up a registered kit.
func KitByName(name string) (Kit, error) {
	kit, ok := kits[name]
	if !ok {
		return Kit{}, fmt.Errorf("unknown kit %q", name)
	}
	return kit, nil
}

// Lattice returns the kit's keys in ascending order.
func (k Kit) Lattice() []int {
	keys := make([]int, 0, len(k.Notes))
	for key := range k.Notes {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

// Contains reports whether the pitch is one of the kit's sounds.
func (k Kit) Contains(pitch int) bool {
	_, ok := k.Notes[pitch]
	return ok
}

// NameFor returns the instrument label for a pitch, or a numeric
// placeholder for pitches outside the kit.
func (k Kit) NameFor(pitch int) string {
	if name, ok := k.Notes[pitch]; ok {
		return name
	}
	return fmt.Sprintf("Note %d", pitch)
}

// Snap projects a raw pitch onto the nearest lattice value by absolute
// distance. The first minimum encountered wins, so with an ascending
// lattice ties break toward the smaller value.
func Snap(lattice []int, raw int) int {
	best := lattice[0]
	bestDist := abs(raw - best)
	for _, v := range lattice[1:] {
		if d := abs(raw - v); d < bestDist {
			best = v
			bestDist = d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
