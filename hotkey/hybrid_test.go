package hotkey

import (
	"testing"
	"time"

	"shadowmaster/session"
)

func next(t *testing.T, g *Gestures) Gesture {
	t.Helper()
	select {
	case x := <-g.C():
		return x
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gesture")
	}
	return 0
}

func TestGesturesTap(t *testing.T) {
	fk := NewFake()
	g := NewGestures(fk, 200*time.Millisecond)
	defer g.Close()

	fk.SimKeydown()
	fk.SimKeyup()
	if got := next(t, g); got != Tap {
		t.Fatalf("got %v, want tap", got)
	}
}

func TestGesturesHold(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	g := NewGestures(fk, threshold)
	defer g.Close()

	fk.SimKeydown()
	if got := next(t, g); got != HoldStart {
		t.Fatalf("got %v, want hold_start", got)
	}

	select {
	case x := <-g.C():
		t.Fatalf("unexpected %v while key still held", x)
	case <-time.After(threshold):
	}

	fk.SimKeyup()
	if got := next(t, g); got != HoldEnd {
		t.Fatalf("got %v, want hold_end", got)
	}
}

func TestGesturesMultipleCycles(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	g := NewGestures(fk, threshold)
	defer g.Close()

	fk.SimKeydown()
	next(t, g)
	fk.SimKeyup()
	if got := next(t, g); got != HoldEnd {
		t.Fatalf("cycle 1: got %v", got)
	}

	fk.SimKeydown()
	fk.SimKeyup()
	if got := next(t, g); got != Tap {
		t.Fatalf("cycle 2: got %v", got)
	}

	fk.SimKeydown()
	fk.SimKeyup()
	if got := next(t, g); got != Tap {
		t.Fatalf("cycle 3: got %v", got)
	}
}

func TestGesturesCloseDuringHold(t *testing.T) {
	fk := NewFake()
	g := NewGestures(fk, 10*time.Millisecond)
	fk.SimKeydown()
	next(t, g)

	closed := make(chan struct{})
	go func() {
		g.Close()
		g.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestGestureEvents(t *testing.T) {
	cases := map[Gesture]session.Event{
		Tap:       session.SkipEvent{},
		HoldStart: session.NavigationStartedEvent{},
		HoldEnd:   session.NavigationEndedEvent{},
	}
	for g, want := range cases {
		if got := g.Event(); got != want {
			t.Errorf("%v: got %T, want %T", g, got, want)
		}
	}
}

func TestParseBinding(t *testing.T) {
	tests := []struct {
		in      string
		want    Binding
		wantErr bool
	}{
		{in: "ctrl+shift+space", want: Binding{Ctrl: true, Shift: true, Key: "space"}},
		{in: " Shift + F9 ", want: Binding{Shift: true, Key: "f9"}},
		{in: "control+n", want: Binding{Ctrl: true, Key: "n"}},
		{in: "f12", want: Binding{Key: "f12"}},
		{in: "alt+space", wantErr: true},
		{in: "ctrl+f13", wantErr: true},
		{in: "ctrl+f01", wantErr: true},
		{in: "ctrl+", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseBinding(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if s := (Binding{Ctrl: true, Shift: true, Key: "space"}).String(); s != DefaultBinding {
		t.Errorf("String() = %q", s)
	}
}
