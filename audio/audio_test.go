package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowmaster/pcm"
)

func TestIsBluetooth(t *testing.T) {
	assert.True(t, IsBluetooth("AirPods Pro"))
	assert.True(t, IsBluetooth("Headset (BT)"))
	assert.False(t, IsBluetooth("Built-in Microphone"))
}

func TestAmplifyClips(t *testing.T) {
	got := pcm.FromBytes(amplify([]int16{0, 100, -100, 10000, -10000}, 4), pcm.SampleRate)
	assert.Equal(t, []int16{0, 400, -400, 32767, -32768}, got.Samples)
}

type listContext struct {
	FakeContext
	devices []DeviceInfo
}

func (l *listContext) Devices() ([]DeviceInfo, error) { return l.devices, nil }

func TestFindDevice(t *testing.T) {
	ctx := &listContext{devices: []DeviceInfo{{ID: "1", Name: "Built-in Mic"}, {ID: "2", Name: "USB Audio CODEC"}}}

	d, err := FindDevice(ctx, "usb")
	require.NoError(t, err)
	assert.Equal(t, "2", d.ID)

	d, err = FindDevice(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = FindDevice(ctx, "webcam")
	assert.Error(t, err)
}

func TestFakeCaptureDeliversClip(t *testing.T) {
	clip := pcm.New(make([]int16, 5000), pcm.SampleRate)
	for i := range clip.Samples {
		clip.Samples[i] = 7
	}
	fc := NewFakeContextFromClip(clip, false)
	dev, err := fc.NewCapture(nil, DefaultCaptureConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var got []byte
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	})
	require.NoError(t, dev.Start())
	<-dev.(*FakeCapture).AudioDone()
	dev.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 10000)
	assert.Equal(t, clip.Bytes(), got[:10000])
	assert.Equal(t, "fake", dev.DeviceName())
}

func TestNewFakeContextDecodesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pcm.WriteWAV(f, pcm.New([]int16{1, 2, 3}, pcm.SampleRate)))
	require.NoError(t, f.Close())

	fc, err := NewFakeContext(path, false)
	require.NoError(t, err)
	assert.Len(t, fc.pcm, 6)
}

func TestFakePlayer(t *testing.T) {
	p := &FakePlayer{}
	clip := pcm.Silence(time.Second, pcm.SampleRate)

	require.NoError(t, p.Play(context.Background(), clip))
	assert.Equal(t, []*pcm.Clip{clip}, p.Played())

	p.SetErr(errors.New("device gone"))
	assert.EqualError(t, p.Play(context.Background(), clip), "device gone")

	p.SetErr(nil)
	p.SetBlock(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Play(ctx, clip), context.DeadlineExceeded)
	assert.Len(t, p.Played(), 3)
}
