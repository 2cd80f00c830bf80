package stream

import (
	"bytes"
	"errors"
	"image"

	"golang.org/x/image/vp8"
)

// ErrInterFrame marks a VP8 frame the pure-Go decoder cannot handle.
var ErrInterFrame = errors.New("vp8 inter frame skipped")

// Frame is one decoded video frame entering the pipeline.
type Frame struct {
	Image  image.Image
	Number int64
}

// Decoder turns a reassembled codec sample into an image.
type Decoder interface {
	Decode(payload []byte) (image.Image, error)
}

// VP8Decoder decodes VP8 key frames. Inter frames are skipped; the
// signaling layer keeps key frames flowing with periodic PLI requests.
type VP8Decoder struct {
	dec *vp8.Decoder
}

func NewVP8Decoder() *VP8Decoder {
	return &VP8Decoder{dec: vp8.NewDecoder()}
}

func (d *VP8Decoder) Decode(payload []byte) (image.Image, error) {
	if len(payload) < 3 {
		return nil, errors.New("short vp8 frame")
	}
	// Frame tag bit 0: 0 = key frame.
	if payload[0]&0x1 != 0 {
		return nil, ErrInterFrame
	}

	d.dec.Init(bytes.NewReader(payload), len(payload))
	if _, err := d.dec.DecodeFrameHeader(); err != nil {
		return nil, err
	}
	return d.dec.DecodeFrame()
}
