package hotkey

import (
	"time"

	"shadowmaster/session"
)

// Gesture is what one press of the hotkey meant.
type Gesture int

const (
	// Tap is a press released before the long-press threshold.
	Tap Gesture = iota
	// HoldStart fires once a press outlasts the threshold.
	HoldStart
	// HoldEnd is the release that follows HoldStart.
	HoldEnd
)

func (g Gesture) String() string {
	switch g {
	case Tap:
		return "tap"
	case HoldStart:
		return "hold_start"
	case HoldEnd:
		return "hold_end"
	}
	return "unknown"
}

// Event maps a gesture onto session control: a tap skips the current
// segment, holding the key pauses for navigation until it is released.
func (g Gesture) Event() session.Event {
	switch g {
	case HoldStart:
		return session.NavigationStartedEvent{}
	case HoldEnd:
		return session.NavigationEndedEvent{}
	default:
		return session.SkipEvent{}
	}
}

// Gestures classifies presses of a Hotkey by how long they are held.
type Gestures struct {
	ch   chan Gesture
	stop chan struct{}
	done chan struct{}
}

// NewGestures starts classifying presses of hk. longPress is the hold
// threshold separating a tap from a hold.
func NewGestures(hk Hotkey, longPress time.Duration) *Gestures {
	g := &Gestures{
		ch:   make(chan Gesture, 4),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go g.run(hk, longPress)
	return g
}

func (g *Gestures) C() <-chan Gesture { return g.ch }

// Close stops the classifier. A hold in progress gets no HoldEnd.
func (g *Gestures) Close() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	<-g.done
}

func (g *Gestures) emit(x Gesture) bool {
	select {
	case g.ch <- x:
		return true
	case <-g.stop:
		return false
	}
}

func (g *Gestures) run(hk Hotkey, longPress time.Duration) {
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			return
		case <-hk.Keydown():
		}

		timer := time.NewTimer(longPress)
		select {
		case <-g.stop:
			timer.Stop()
			return
		case <-hk.Keyup():
			timer.Stop()
			if !g.emit(Tap) {
				return
			}
		case <-timer.C:
			if !g.emit(HoldStart) {
				return
			}
			select {
			case <-g.stop:
				return
			case <-hk.Keyup():
				if !g.emit(HoldEnd) {
					return
				}
			}
		}
	}
}
