package capture

import (
	"sync"

	"shadowmaster/pcm"
	"shadowmaster/segmenter"
)

const (
	vadFrameMs    = 20
	vadFrameBytes = pcm.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	vadDebounce   = 3                                      // consecutive speech frames to confirm voice
	// a tick counts as speech when at least this share of its frames is speech
	speechThreshold = 0.10
)

// vadProcessor classifies captured audio frame by frame and keeps running
// counts for tick-based endpointing.
type vadProcessor struct {
	vad segmenter.Classifier

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func newVADProcessor(c segmenter.Classifier) *vadProcessor {
	return &vadProcessor{vad: c}
}

func (p *vadProcessor) Process(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)
	for len(p.buf) >= vadFrameBytes {
		frame := p.buf[:vadFrameBytes]
		p.buf = p.buf[vadFrameBytes:]

		active, err := p.vad.IsSpeech(frame, pcm.SampleRate)
		if err != nil {
			continue
		}
		p.totalFrames++
		if active {
			p.speechFrames++
			p.speechRun++
			if p.speechRun >= vadDebounce {
				p.voiceDetected = true
			}
		} else {
			p.speechRun = 0
		}
	}
}

func (p *vadProcessor) VoiceDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceDetected
}

// HasSpeechTick reports whether enough of the frames since the previous
// call were speech.
func (p *vadProcessor) HasSpeechTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.totalFrames - p.tickTotal
	s := p.speechFrames - p.tickSpeech
	p.tickTotal, p.tickSpeech = p.totalFrames, p.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (p *vadProcessor) Stats() (total, speech int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFrames, p.speechFrames
}

func (p *vadProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.voiceDetected = false
	p.speechRun = 0
	p.totalFrames, p.speechFrames = 0, 0
	p.tickTotal, p.tickSpeech = 0, 0
}
