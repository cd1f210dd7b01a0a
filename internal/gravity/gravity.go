// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gravity computes a node's current importance as a pure function
// of its stored fields plus the clock. Nothing here touches the database:
// scores are recomputed on read so they can never drift from the
// underlying timestamps.
package gravity

import (
	"math"
	"time"

	"github.com/tejzpr/munin-mcp/internal/config"
)

// Thresholds are the three tunable policy constants, chosen from the
// golden-ratio family for separation. They drive pruning, clustering
// and SNR growth respectively; algorithms receive them as values rather
// than reading globals.
type Thresholds struct {
	NoiseFloor       float64
	DensityThreshold float64
	PhiRatio         float64
}

// DefaultThresholds returns the standard threshold set
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoiseFloor:       0.382,
		DensityThreshold: 0.618,
		PhiRatio:         1.618,
	}
}

// ThresholdsFromConfig builds a threshold set from configuration
func ThresholdsFromConfig(cfg config.ThresholdConfig) Thresholds {
	return Thresholds{
		NoiseFloor:       cfg.NoiseFloor,
		DensityThreshold: cfg.DensityThreshold,
		PhiRatio:         cfg.PhiRatio,
	}
}

// DecayParams control the time-decay curve
type DecayParams struct {
	HalfLifeDays float64 // exponential half-life without access
	AccessBoost  float64 // weight of the logarithmic access-frequency boost
	Floor        float64 // decay never drops below this
}

// DefaultDecayParams returns the standard decay parameters
func DefaultDecayParams() DecayParams {
	return DecayParams{
		HalfLifeDays: 90.0,
		AccessBoost:  0.15,
		Floor:        0.05,
	}
}

// DecayParamsFromConfig builds decay parameters from configuration
func DecayParamsFromConfig(cfg config.DecayConfig) DecayParams {
	return DecayParams{
		HalfLifeDays: cfg.HalfLifeDays,
		AccessBoost:  cfg.AccessBoost,
		Floor:        cfg.Floor,
	}
}

// Decay combines exponential time-decay with a logarithmic
// access-frequency boost: frequently accessed memories decay slower.
// The result is clamped to [Floor, 1].
func (p DecayParams) Decay(age time.Duration, accessCount int) float64 {
	ageDays := age.Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}

	base := math.Exp(-math.Ln2 * ageDays / p.HalfLifeDays)
	boost := 1.0 + p.AccessBoost*math.Log1p(float64(accessCount))

	d := base * boost
	if d > 1.0 {
		d = 1.0
	}
	if d < p.Floor {
		d = p.Floor
	}
	return d
}

// Gravity returns salience scaled by decay: the node's current computed
// importance at time now.
func (p DecayParams) Gravity(salience float64, createdAt time.Time, accessCount int, now time.Time) float64 {
	return salience * p.Decay(now.Sub(createdAt), accessCount)
}

// PruneEligible reports whether a gravity score falls below the noise
// floor. The threshold is exclusive on the low side: a score exactly at
// the floor survives.
func (t Thresholds) PruneEligible(g float64) bool {
	return g < t.NoiseFloor
}

// Clusterable reports whether a pairwise similarity clears the density
// threshold. Strictly above: exactly at the threshold is not clusterable.
func (t Thresholds) Clusterable(similarity float64) bool {
	return similarity > t.DensityThreshold
}

// SNRGrowth returns the bounded multiplicative SNR growth factor for a
// compression pass that removed removedRatio of the graph's nodes.
// Growth is always >= 1, so SNR is monotonically non-decreasing.
func (t Thresholds) SNRGrowth(removedRatio float64) float64 {
	if removedRatio < 0 {
		removedRatio = 0
	}
	if removedRatio > 1 {
		removedRatio = 1
	}
	return 1.0 + (t.PhiRatio-1.0)*removedRatio
}

// WeightedSalience combines member saliences for a consolidated node.
// Members must be ordered by descending gravity; each successive member
// carries 1/phi the weight of the previous, so higher-gravity members
// dominate the combination.
func (t Thresholds) WeightedSalience(saliences []float64) float64 {
	if len(saliences) == 0 {
		return 0
	}

	var sum, weightSum float64
	weight := 1.0
	for _, s := range saliences {
		sum += s * weight
		weightSum += weight
		weight /= t.PhiRatio
	}
	return sum / weightSum
}
