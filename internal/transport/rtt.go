package transport

import "time"

// RTT defaults and bounds (spec §4.7).
const (
	DefaultRTO = 3 * time.Second
	MaxRTO     = 60 * time.Second
	MinRTT     = time.Millisecond
)

// RFC 6298 constants.
const (
	alpha = 0.125
	beta  = 0.25
	kFactor = 4
	clockGranularity = 10 * time.Millisecond
)

// Estimator tracks smoothed RTT and RTO per destination, per RFC 6298
// with Karn's rule: only samples taken from packets that were never
// retransmitted update the estimate (spec §4.7).
type Estimator struct {
	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	samples   uint64
}

func NewEstimator() *Estimator {
	return &Estimator{rto: DefaultRTO}
}

// Sample records one RTT observation. Callers must not invoke this for
// retransmitted packets (Karn's rule) — see transport.Manager.Ack.
func (e *Estimator) Sample(rtt time.Duration) {
	if rtt < MinRTT {
		rtt = MinRTT
	}

	if !e.hasSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasSample = true
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = time.Duration((1-beta)*float64(e.rttvar) + beta*float64(diff))
		e.srtt = time.Duration((1-alpha)*float64(e.srtt) + alpha*float64(rtt))
	}
	e.samples++

	rto := e.srtt + maxDuration(clockGranularity, kFactor*e.rttvar)
	e.rto = clamp(rto, DefaultRTO, MaxRTO)
}

// RTO returns the current retransmission timeout: the smoothed estimate
// if one exists, else the default (spec §4.7).
func (e *Estimator) RTO() time.Duration {
	if !e.hasSample {
		return DefaultRTO
	}
	return e.rto
}

// SampleCount returns the number of RTT samples folded into the estimate.
func (e *Estimator) SampleCount() uint64 { return e.samples }

// SmoothedRTT returns the current smoothed RTT estimate (zero if no
// sample has been taken yet).
func (e *Estimator) SmoothedRTT() time.Duration { return e.srtt }

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
