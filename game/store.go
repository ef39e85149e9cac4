package game

import "math"

// CoeffSet is the server broadcast for the current round: per-source
// production watts, per-building consumption watts, plus the game-active
// flag. A successful poll replaces the whole set, decode failures leave
// it untouched, so readers never see a half-updated mix.
type CoeffSet struct {
	Production  map[uint8]float64
	Consumption map[uint8]float64
	GameActive  bool
}

func newCoeffSet() CoeffSet {
	return CoeffSet{
		Production:  make(map[uint8]float64),
		Consumption: make(map[uint8]float64),
	}
}

func (cs CoeffSet) clone() CoeffSet {
	c := CoeffSet{
		Production:  make(map[uint8]float64, len(cs.Production)),
		Consumption: make(map[uint8]float64, len(cs.Consumption)),
		GameActive:  cs.GameActive,
	}
	for k, v := range cs.Production {
		c.Production[k] = v
	}
	for k, v := range cs.Consumption {
		c.Consumption[k] = v
	}
	return c
}

func (cs CoeffSet) equal(other CoeffSet) bool {
	if cs.GameActive != other.GameActive {
		return false
	}
	if len(cs.Production) != len(other.Production) || len(cs.Consumption) != len(other.Consumption) {
		return false
	}
	for k, v := range cs.Production {
		if ov, ok := other.Production[k]; !ok || !sameWatts(v, ov) {
			return false
		}
	}
	for k, v := range cs.Consumption {
		if ov, ok := other.Consumption[k]; !ok || !sameWatts(v, ov) {
			return false
		}
	}
	return true
}

// sameWatts treats two absent values (NaN, from the wire sentinel) as
// equal, so a repeated broadcast with gaps does not look like a change.
func sameWatts(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}
