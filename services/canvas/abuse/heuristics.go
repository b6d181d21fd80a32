// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package abuse

import (
	"fmt"
	"math"
	"time"
)

// TimingStdDev returns the population standard deviation, in milliseconds,
// of the intervals between consecutive timestamps.
//
// # Inputs
//
//   - timestamps: Epoch milliseconds in arrival order.
//
// # Outputs
//
//   - float64: Standard deviation. +Inf when fewer than two timestamps are
//     given, so that "no data" never reads as "perfectly regular".
func TimingStdDev(timestamps []int64) float64 {
	if len(timestamps) < 2 {
		return math.Inf(1)
	}

	intervals := make([]float64, 0, len(timestamps)-1)
	var sum float64
	for i := 1; i < len(timestamps); i++ {
		d := float64(timestamps[i] - timestamps[i-1])
		intervals = append(intervals, d)
		sum += d
	}
	mean := sum / float64(len(intervals))

	var sq float64
	for _, d := range intervals {
		sq += (d - mean) * (d - mean)
	}
	return math.Sqrt(sq / float64(len(intervals)))
}

// BotCheck is the outcome of the timing-variance heuristic.
type BotCheck struct {
	IsBot    bool
	StdDevMs float64
	Reason   string
}

// CheckBotBehavior classifies a window of attempts.
//
// # Description
//
// Windows shorter than policy.MinSamples are never flagged. Otherwise the
// window is bot-like when the inter-arrival standard deviation is below
// policy.VarianceThreshold. Scripted clients painting on a timer produce
// near-zero jitter; human input does not.
func CheckBotBehavior(attempts []Attempt, policy Policy) BotCheck {
	if len(attempts) < policy.MinSamples {
		return BotCheck{StdDevMs: math.Inf(1)}
	}

	timestamps := make([]int64, len(attempts))
	for i, a := range attempts {
		timestamps[i] = a.Timestamp
	}

	stdDev := TimingStdDev(timestamps)
	thresholdMs := float64(policy.VarianceThreshold) / float64(time.Millisecond)
	if stdDev < thresholdMs {
		return BotCheck{
			IsBot:    true,
			StdDevMs: stdDev,
			Reason:   fmt.Sprintf("timing too consistent (stddev: %.2fms)", stdDev),
		}
	}
	return BotCheck{StdDevMs: stdDev}
}
