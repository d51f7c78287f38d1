// Package pow selects and computes the proof-of-work function for a share.
// The algorithm is resolved from a dispatch table keyed on the coin family
// and the block major version, and hashing runs on a bounded worker pool so
// CPU-heavy work never starves the connection tasks.
package pow

import (
	"fmt"
)

// Family identifies a CryptoNote coin family with its own fork schedule.
type Family string

const (
	// FamilyCryptoNote is the Monero-style schedule: CryptoNight v0/v1/v2,
	// then CryptoNight-R, then RandomX from major version 12.
	FamilyCryptoNote Family = "cn"
	// FamilyCryptoNoteLite is the Aeon-style lightweight variant.
	FamilyCryptoNoteLite Family = "cn-lite"
	// FamilyCryptoNoteHeavy is the Haven/Loki-style heavyweight variant.
	FamilyCryptoNoteHeavy Family = "cn-heavy"
)

// Algo is a concrete proof-of-work function.
type Algo int

const (
	AlgoCNv0 Algo = iota
	AlgoCNv1
	AlgoCNv2
	AlgoCNR
	AlgoCNLite
	AlgoCNHeavy
	AlgoRandomX
)

// WireName returns the algorithm identifier miners expect in job payloads.
func (a Algo) WireName() string {
	switch a {
	case AlgoCNv0:
		return "cn/0"
	case AlgoCNv1:
		return "cn/1"
	case AlgoCNv2:
		return "cn/2"
	case AlgoCNR:
		return "cn/r"
	case AlgoCNLite:
		return "cn-lite/0"
	case AlgoCNHeavy:
		return "cn-heavy/0"
	case AlgoRandomX:
		return "rx/0"
	default:
		return "unknown"
	}
}

// UsesSeed reports whether the algorithm keys its dataset on a seed hash.
func (a Algo) UsesSeed() bool {
	return a == AlgoRandomX
}

// versionRange maps block major versions at or above From to an algorithm.
type versionRange struct {
	From uint8
	Algo Algo
}

// forkTable holds the per-family fork schedules, highest match wins.
var forkTable = map[Family][]versionRange{
	FamilyCryptoNote: {
		{From: 0, Algo: AlgoCNv0},
		{From: 7, Algo: AlgoCNv1},
		{From: 8, Algo: AlgoCNv2},
		{From: 10, Algo: AlgoCNR},
		{From: 12, Algo: AlgoRandomX},
	},
	FamilyCryptoNoteLite: {
		{From: 0, Algo: AlgoCNLite},
	},
	FamilyCryptoNoteHeavy: {
		{From: 0, Algo: AlgoCNHeavy},
	},
}

// Lookup resolves the proof-of-work algorithm for a coin family and block
// major version.
func Lookup(family Family, majorVersion uint8) (Algo, error) {
	ranges, ok := forkTable[family]
	if !ok {
		return 0, fmt.Errorf("unknown coin family %q", family)
	}

	algo := ranges[0].Algo
	for _, r := range ranges {
		if majorVersion >= r.From {
			algo = r.Algo
		}
	}
	return algo, nil
}
