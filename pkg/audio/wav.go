package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// ErrUnsupportedWAV is returned for WAV streams that are not 16-bit integer
// PCM with one or two channels.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding (need 16-bit mono or stereo PCM)")

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
	// wavUnknownSize is written by streaming encoders that do not know the
	// final length up front.
	wavUnknownSize = 0xFFFFFFFF
	// maxFmtChunk bounds the "fmt " chunk; real ones are 16 to 40 bytes.
	maxFmtChunk = 1024
)

// WAVInfo describes the PCM payload of a WAV stream.
type WAVInfo struct {
	Format   Format
	DataSize int64
	Duration time.Duration
}

// EncodeWAV writes pcm as a canonical 44-byte-header PCM WAV file to w.
func EncodeWAV(w io.Writer, f Format, pcm []byte) error {
	if !f.Valid() {
		return fmt.Errorf("audio: encode wav: invalid format %s", f)
	}
	hdr := make([]byte, wavHeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.Channels*BytesPerSample))
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// DecodeWAV parses a complete in-memory WAV file and returns its format and
// raw PCM payload. The returned slice aliases data.
func DecodeWAV(data []byte) (Format, []byte, error) {
	r := bytes.NewReader(data)
	info, err := ReadWAVInfo(r)
	if err != nil {
		return Format{}, nil, err
	}
	start := len(data) - r.Len()
	end := start + int(info.DataSize)
	if end > len(data) || info.DataSize < 0 {
		end = len(data)
	}
	return info.Format, data[start:end], nil
}

// ReadWAVInfo reads a WAV header from r, stopping at the start of the data
// chunk. Chunks other than "fmt " and "data" are skipped.
func ReadWAVInfo(r io.Reader) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var (
		info   WAVInfo
		gotFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("audio: read wav chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, fmt.Errorf("audio: wav fmt chunk too small (%d bytes)", size)
			}
			if size > maxFmtChunk {
				return WAVInfo{}, fmt.Errorf("audio: wav fmt chunk too large (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: read wav fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; accepted when the sample width matches.
			if (tag != wavFormatPCM && tag != 0xFFFE) || bits != 16 {
				return WAVInfo{}, ErrUnsupportedWAV
			}
			info.Format = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			if !info.Format.Valid() {
				return WAVInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedWAV, info.Format)
			}
			gotFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return WAVInfo{}, fmt.Errorf("audio: read wav pad byte: %w", err)
				}
			}
		case "data":
			if !gotFmt {
				return WAVInfo{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			if size == wavUnknownSize {
				size = -1
			}
			info.DataSize = size
			if size > 0 {
				info.Duration = info.Format.Duration(int(size))
			}
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: skip wav chunk %q: %w", id, err)
			}
		}
	}
}
