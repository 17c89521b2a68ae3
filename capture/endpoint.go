package capture

import "time"

const tickInterval = 100 * time.Millisecond

type EndpointEvent int

const (
	EndpointNone EndpointEvent = iota
	EndpointSpeechStarted
	// EndpointDone fires once the learner has spoken and then been quiet
	// for the trailing window.
	EndpointDone
)

// endpointMonitor watches per-tick speech flags during an attempt. Speech
// must cover startTicks of a sliding window before it counts as started,
// so a cough does not arm the trailing-silence timer.
type endpointMonitor struct {
	trailTicks int
	startTicks int
	windowSz   int

	ticks     int
	window    []bool
	started   bool
	silentRun int
}

func newEndpointMonitor(trailing time.Duration) *endpointMonitor {
	trail := max(int(trailing/tickInterval), 1)
	return &endpointMonitor{
		trailTicks: trail,
		startTicks: 2,
		windowSz:   5,
		window:     make([]bool, 5),
	}
}

func (m *endpointMonitor) recent() int {
	n := min(m.ticks, m.windowSz)
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return count
}

func (m *endpointMonitor) Tick(hasSpeech bool) EndpointEvent {
	m.window[m.ticks%m.windowSz] = hasSpeech
	m.ticks++

	if hasSpeech {
		m.silentRun = 0
	} else {
		m.silentRun++
	}

	if !m.started {
		if m.recent() >= m.startTicks {
			m.started = true
			return EndpointSpeechStarted
		}
		return EndpointNone
	}
	if m.silentRun >= m.trailTicks {
		return EndpointDone
	}
	return EndpointNone
}
