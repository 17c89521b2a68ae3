package audio

import (
	"context"
	"encoding/binary"
	"strings"

	"shadowmaster/pcm"
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether it is a Bluetooth
// headset. Those switch to a low-quality codec while the mic is open.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// captureGain compensates for the low default source volume on most
// laptop mics. The pulse source is opened at unity volume and boosted here.
const captureGain = 4

// amplify scales samples by gain with clipping and returns them as s16le.
func amplify(samples []int16, gain int32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := min(max(int32(s)*gain, -32768), 32767)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return data
}

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultCaptureConfig is what every recorder in the app asks for.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: pcm.SampleRate, Channels: pcm.Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayer() (Player, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Player plays clips on the default output.
type Player interface {
	// Play blocks until the clip has been played out or ctx is done, in
	// which case it returns ctx.Err().
	Play(ctx context.Context, clip *pcm.Clip) error
}
