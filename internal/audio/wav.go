package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned for data that is not a decodable WAV file.
var ErrInvalidWAV = errors.New("invalid wav")

// WrapPCM wraps raw little-endian PCM data in a WAV container.
func WrapPCM(pcm []byte, sampleRate, channels, bytesPerSample int) []byte {
	dataLen := len(pcm)
	fileLen := 36 + dataLen // 44-byte header minus 8 bytes for RIFF header = 36

	buf := &bytes.Buffer{}
	buf.Grow(44 + dataLen)

	// RIFF header
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(fileLen))
	buf.WriteString("WAVE")

	// fmt subchunk
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample)) // byte rate
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*bytesPerSample))            // block align
	_ = binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8))

	// data subchunk
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}

// EncodeWAV writes b as integer PCM of the given bit depth (16, 24 or 32).
func EncodeWAV(b *Buffer, bitDepth int) ([]byte, error) {
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	width := bitDepth / 8
	pcm := make([]byte, len(b.Samples)*width)
	for i, s := range b.Samples {
		s = math.Max(-1, math.Min(1, s))
		off := i * width
		switch bitDepth {
		case 16:
			binary.LittleEndian.PutUint16(pcm[off:], uint16(int16(math.Round(s*math.MaxInt16))))
		case 24:
			v := int32(math.Round(s * 8388607))
			pcm[off] = byte(v)
			pcm[off+1] = byte(v >> 8)
			pcm[off+2] = byte(v >> 16)
		case 32:
			binary.LittleEndian.PutUint32(pcm[off:], uint32(int32(math.Round(s*math.MaxInt32))))
		}
	}
	return WrapPCM(pcm, b.SampleRate, b.Channels, width), nil
}

// DecodeWAV parses a RIFF/WAVE file holding 8/16/24/32-bit integer or
// 32-bit float samples. Streams written with an unknown or zero data length
// (as command line tools do when writing to a pipe) are read to the end.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format, channels, bits uint16
		sampleRate             uint32
		haveFmt                bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			sampleRate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			if format == wavFormatExtensible && size >= 26 && body+26 <= len(data) {
				format = binary.LittleEndian.Uint16(data[body+24:])
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			if size == 0 || end > len(data) {
				end = len(data)
			}
			return decodeSamples(data[body:end], format, int(channels), int(sampleRate), int(bits))
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

func decodeSamples(pcm []byte, format uint16, channels, sampleRate, bits int) (*Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, channels, sampleRate)
	}
	width := bits / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrInvalidWAV, bits)
	}

	n := len(pcm) / width
	n -= n % channels
	samples := make([]float64, n)

	switch {
	case format == wavFormatFloat && bits == 32:
		for i := range samples {
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:])))
		}
	case format == wavFormatPCM && bits == 8:
		for i := range samples {
			samples[i] = (float64(pcm[i]) - 128) / 128
		}
	case format == wavFormatPCM && bits == 16:
		for i := range samples {
			samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		}
	case format == wavFormatPCM && bits == 24:
		for i := range samples {
			b := pcm[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			samples[i] = float64(v) / 8388608
		}
	case format == wavFormatPCM && bits == 32:
		for i := range samples {
			samples[i] = float64(int32(binary.LittleEndian.Uint32(pcm[i*4:]))) / 2147483648
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, format, bits)
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
