package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"smart-room/internal/application"
)

const DefaultSilenceThreshold int16 = 500

// utteranceDetector accumulates samples until the speaker pauses.
type utteranceDetector struct {
	sampleRate int
	threshold  int16
	buf        []int16
	silent     int
	heard      bool
}

func newUtteranceDetector(sampleRate int, threshold int16) *utteranceDetector {
	return &utteranceDetector{
		sampleRate: sampleRate,
		threshold:  threshold,
		buf:        make([]int16, 0, sampleRate*5),
	}
}

// feed appends a chunk and reports whether the utterance is complete.
// Leading silence is discarded.
func (d *utteranceDetector) feed(chunk []int16) bool {
	loud := false
	for _, s := range chunk {
		if s > d.threshold || s < -d.threshold {
			loud = true
			break
		}
	}

	if !loud && !d.heard {
		return false
	}
	d.heard = true
	d.buf = append(d.buf, chunk...)

	if loud {
		d.silent = 0
	} else {
		d.silent += len(chunk)
	}

	if d.silent >= d.sampleRate {
		return true
	}
	return len(d.buf) >= d.sampleRate*10
}

func (d *utteranceDetector) samples() []int16 {
	return d.buf
}

// encodeWAV wraps 16-bit PCM samples in a RIFF/WAVE container.
func encodeWAV(samples []int16, format application.AudioFormat) ([]byte, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}

	var buf bytes.Buffer
	dataSize := len(samples) * 2
	blockAlign := format.Channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, int32(format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(format.SampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, int16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes(), nil
}
