package demo

import "math"

type segmentKind int

const (
	segStraight segmentKind = iota // full throttle, top speed
	segBraking                     // heavy braking into a corner
	segCorner                      // constant-ish speed cornering
	segAccel                       // accelerating out of a corner
)

// trackSegment is one phase of a lap at representative pace.
type trackSegment struct {
	kind        segmentKind
	duration    float64 // seconds to traverse
	targetSpeed float64 // m/s at end of segment
	steering    float64 // peak steering angle in radians, positive is right
	lateralG    float64 // peak lateral G
}

// demoTrack lays out a simple circuit, roughly an 85 second lap with a mix
// of corners and straights.
func demoTrack() []trackSegment {
	return []trackSegment{
		// start/finish straight
		{segStraight, 8.0, 75.0, 0.0, 0.0},
		// T1: heavy braking into slow right-hander
		{segBraking, 3.0, 28.0, 0.02, 0.1},
		{segCorner, 4.0, 25.0, 0.35, 1.8},
		{segAccel, 3.5, 55.0, 0.1, 0.4},
		// short straight
		{segStraight, 4.0, 62.0, 0.0, 0.0},
		// T2: medium braking into fast left-hander
		{segBraking, 2.0, 45.0, -0.02, -0.1},
		{segCorner, 3.5, 42.0, -0.22, -1.5},
		{segAccel, 3.0, 58.0, -0.05, -0.3},
		// back straight
		{segStraight, 10.0, 80.0, 0.0, 0.0},
		// T3: chicane, quick right-left
		{segBraking, 2.5, 35.0, 0.05, 0.2},
		{segCorner, 2.0, 32.0, 0.30, 1.6},
		{segCorner, 2.0, 30.0, -0.32, -1.7},
		{segAccel, 3.0, 50.0, -0.05, -0.2},
		// medium straight
		{segStraight, 6.0, 68.0, 0.0, 0.0},
		// T4: long sweeping right
		{segBraking, 1.5, 52.0, 0.03, 0.1},
		{segCorner, 5.0, 50.0, 0.18, 1.3},
		{segAccel, 3.0, 60.0, 0.05, 0.3},
		// T5: tight hairpin left
		{segBraking, 3.5, 22.0, -0.03, -0.1},
		{segCorner, 4.5, 20.0, -0.42, -1.2},
		{segAccel, 4.0, 55.0, -0.1, -0.3},
		// run to start/finish
		{segStraight, 6.0, 72.0, 0.0, 0.0},
	}
}

func trackDuration(track []trackSegment) float64 {
	var total float64
	for _, seg := range track {
		total += seg.duration
	}
	return total
}

// lapState is the car state derived from a position on the lap.
type lapState struct {
	speed    float64
	throttle float64
	brake    float64
	steering float64
	latG     float64
	longG    float64
	gear     int
	rpm      float64
}

func computeLapState(track []trackSegment, lapTime float64) lapState {
	lapDuration := trackDuration(track)
	t := math.Mod(lapTime, lapDuration)

	var elapsed float64
	segIdx := 0
	for i, seg := range track {
		if elapsed+seg.duration > t {
			segIdx = i
			break
		}
		elapsed += seg.duration
		if i == len(track)-1 {
			segIdx = i
		}
	}

	seg := track[segIdx]
	segT := clamp((t-elapsed)/seg.duration, 0, 1)

	// Interpolate from the previous segment's exit speed.
	prevTargetSpeed := track[len(track)-1].targetSpeed
	if segIdx > 0 {
		prevTargetSpeed = track[segIdx-1].targetSpeed
	}
	smoothT := smoothstep(segT)
	speed := lerp(prevTargetSpeed, seg.targetSpeed, smoothT)

	var throttle, brake float64
	switch seg.kind {
	case segStraight:
		throttle = 0.95 + 0.05*(1.0-segT) // slight lift approaching end
	case segBraking:
		brake = clamp(1.0-smoothT*0.3, 0, 1) // starts heavy, eases off
	case segCorner:
		throttle = 0.2 + 0.3*segT // maintenance throttle, more toward exit
	case segAccel:
		throttle = 0.5 + 0.5*smoothT
	}

	// Steering ramps in during the first half of the segment and out during
	// the second half.
	var steerEnvelope float64
	if segT < 0.5 {
		steerEnvelope = smoothstep(segT * 2.0)
	} else {
		steerEnvelope = smoothstep((1.0 - segT) * 2.0)
	}
	steering := seg.steering * steerEnvelope
	latG := seg.lateralG * steerEnvelope

	speedRate := (seg.targetSpeed - prevTargetSpeed) / seg.duration
	longG := speedRate / 9.81

	gear := speedToGear(speed)

	return lapState{
		speed:    speed,
		throttle: throttle,
		brake:    brake,
		steering: steering,
		latG:     latG,
		longG:    longG,
		gear:     gear,
		rpm:      speedToRPM(speed, gear),
	}
}

func smoothstep(t float64) float64 {
	t = clamp(t, 0, 1)
	return t * t * (3.0 - 2.0*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func speedToGear(speedMS float64) int {
	kph := speedMS * 3.6
	switch {
	case kph < 40.0:
		return 1
	case kph < 80.0:
		return 2
	case kph < 120.0:
		return 3
	case kph < 170.0:
		return 4
	case kph < 230.0:
		return 5
	default:
		return 6
	}
}

// speedToRPM approximates an RPM curve per gear, lower gear means higher RPM
// for the same speed.
func speedToRPM(speedMS float64, gear int) float64 {
	var baseRatio float64
	switch gear {
	case 1:
		baseRatio = 130.0
	case 2:
		baseRatio = 85.0
	case 3:
		baseRatio = 60.0
	case 4:
		baseRatio = 45.0
	case 5:
		baseRatio = 36.0
	default:
		baseRatio = 30.0
	}
	return clamp(speedMS*baseRatio+1200.0, 1200.0, 8000.0) // idle offset
}

// noise produces deterministic pseudo-random values in [0, 1) from a seed.
func noise(seed float64) float64 {
	x := math.Sin(seed*12.9898+78.233) * 43758.547
	return x - math.Floor(x)
}

// jitter is small deterministic noise centered around zero.
func jitter(seed, amplitude float64) float64 {
	return (noise(seed) - 0.5) * 2.0 * amplitude
}
