package streaming

import "math"

// DefaultSegmentSeconds is the nominal segment length the planner aims for.
const DefaultSegmentSeconds = 10.0

// Segment is one time-bounded, independently decodable chunk of media. It is
// immutable once planned; an ordered sequence of Segments forms the plan for
// one media file.
type Segment struct {
	Start    float64
	Duration float64
}

// End returns the timestamp at which the segment finishes.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// SegmentPlan is the deterministic segmentation of one media file: contiguous,
// non-overlapping segments that each begin on a keyframe, plus the maximum
// observed segment duration (the manifest's target-duration value) and the
// total media duration.
type SegmentPlan struct {
	Segments    []Segment
	MaxDuration float64
	MediaTime   float64
}

// PlanSegments derives segment boundaries from the ordered keyframe
// timestamps of the primary stream. Starting from zero, each target boundary
// sits targetSeconds after the previous one; the planner walks the keyframes
// and keeps advancing while the next keyframe is strictly closer to the
// target than the current candidate, then commits the candidate. That keeps
// the drift between actual and nominal segment length minimal while every
// segment still begins on a keyframe. A final segment covers the stretch
// between the last committed boundary and mediaSeconds, if any.
func PlanSegments(keyframes []float64, mediaSeconds, targetSeconds float64) SegmentPlan {
	if targetSeconds <= 0 {
		targetSeconds = DefaultSegmentSeconds
	}

	plan := SegmentPlan{MediaTime: mediaSeconds}
	last := 0.0
	target := targetSeconds

	for i, ts := range keyframes {
		if i+1 < len(keyframes) {
			next := keyframes[i+1]
			if math.Abs(next-target) < math.Abs(ts-target) {
				continue
			}
		}

		duration := ts - last
		if duration <= 0 {
			continue
		}

		plan.Segments = append(plan.Segments, Segment{Start: last, Duration: duration})
		plan.MaxDuration = math.Max(plan.MaxDuration, duration)
		last = ts
		target = ts + targetSeconds
	}

	if tail := mediaSeconds - last; tail > 0 {
		plan.Segments = append(plan.Segments, Segment{Start: last, Duration: tail})
		plan.MaxDuration = math.Max(plan.MaxDuration, tail)
	}

	return plan
}
