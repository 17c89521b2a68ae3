package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const WAVHeaderSize = 44

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// WriteWAV writes c as a canonical 44-byte-header PCM WAV file.
func WriteWAV(w io.Writer, c *Clip) error {
	dataSize := c.Len() * 2
	rate := c.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}

	hdr := make([]byte, WAVHeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(WAVHeaderSize-8+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(hdr[32:34], 2) // block align
	binary.LittleEndian.PutUint16(hdr[34:36], BitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}
	if _, err := w.Write(c.Bytes()); err != nil {
		return fmt.Errorf("writing wav data: %w", err)
	}
	return nil
}

// ReadWAV parses a 16-bit PCM WAV stream, walking chunks so that files with
// LIST or fact chunks before "data" are accepted. Multi-channel input is
// downmixed to mono.
func ReadWAV(r io.Reader) (*Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("reading riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav file: %w", ErrUnsupportedFormat)
	}

	var (
		channels int
		rate     int
		bits     int
		haveFmt  bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, fmt.Errorf("reading wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("short fmt chunk: %w", ErrUnsupportedFormat)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, fmt.Errorf("wav encoding %d: %w", format, ErrUnsupportedFormat)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data before fmt: %w", ErrUnsupportedFormat)
			}
			if bits != BitsPerSample {
				return nil, fmt.Errorf("%d-bit wav: %w", bits, ErrUnsupportedFormat)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("reading wav data: %w", err)
			}
			interleaved := FromBytes(data[:n], rate).Samples
			return &Clip{Samples: downmix(interleaved, channels), SampleRate: rate}, nil
		default:
			if size%2 == 1 {
				size++
			}
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return nil, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
		}
	}
}

func downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]int16, len(interleaved)/channels)
	for i := range out {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(interleaved[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
