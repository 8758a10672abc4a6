package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// Info describes decoded audio for chunk sizing.
type Info struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
	BitRate     int // bits per second, 0 when metadata is absent
	DataSize    int64
	Encoding    string // "pcm" or "mulaw"
	DataOffset  int64
}

// ByteRate returns bytes per second. When bit-rate metadata is absent or
// unparsable it falls back to 64000 bits/s per channel.
func (i Info) ByteRate() int {
	bitRate := i.BitRate
	if bitRate <= 0 {
		ch := i.Channels
		if ch <= 0 {
			ch = 1
		}
		bitRate = 64000 * ch
	}
	return bitRate / 8
}

// Duration returns the playback length in seconds, 0 when undeterminable.
func (i Info) Duration() float64 {
	br := i.ByteRate()
	if br <= 0 || i.DataSize <= 0 {
		return 0
	}
	return float64(i.DataSize) / float64(br)
}

// ProbeConfig carries the fallback parameters for files that generic media
// detection cannot introspect.
type ProbeConfig struct {
	RawSampleRate int // default 8000
}

// Source is an open audio file positioned at the start of its payload.
type Source struct {
	Info Info
	r    io.ReadCloser
}

func (s *Source) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *Source) Close() error               { return s.r.Close() }

// Open probes path and returns a Source ready for chunked reads. WAV
// containers are parsed directly; anything mimetype cannot identify as a
// known audio container is treated as raw 8-bit mono mu-law audio at the
// configured sample rate.
func Open(path string, cfg ProbeConfig) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	mt, err := mimetype.DetectFile(path)
	if err == nil && (mt.Is("audio/wav") || mt.Is("audio/x-wav")) {
		info, err := parseWAV(f, st.Size())
		if err != nil {
			f.Close()
			return nil, err
		}
		return &Source{Info: info, r: f}, nil
	}

	// Raw mu-law has no header to introspect.
	rate := cfg.RawSampleRate
	if rate <= 0 {
		rate = 8000
	}
	info := Info{
		SampleRate:  rate,
		Channels:    1,
		SampleWidth: 1,
		BitRate:     rate * 8,
		DataSize:    st.Size(),
		Encoding:    "mulaw",
	}
	return &Source{Info: info, r: f}, nil
}

// parseWAV reads the RIFF fmt chunk and seeks to the data payload.
func parseWAV(f *os.File, size int64) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Info{}, fmt.Errorf("read riff header: %w", err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return Info{}, fmt.Errorf("not a wav file")
	}

	var info Info
	info.Encoding = "pcm"
	offset := int64(12)
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return Info{}, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(hdr[0:4])
		chunkLen := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		offset += 8

		switch chunkID {
		case "fmt ":
			var fmtChunk struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(f, binary.LittleEndian, &fmtChunk); err != nil {
				return Info{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.SampleRate = int(fmtChunk.SampleRate)
			info.Channels = int(fmtChunk.NumChannels)
			info.SampleWidth = int(fmtChunk.BitsPerSample) / 8
			if info.SampleWidth <= 0 {
				info.SampleWidth = 1
			}
			info.BitRate = int(fmtChunk.ByteRate) * 8
			if fmtChunk.AudioFormat == 7 {
				info.Encoding = "mulaw"
			}
			if skip := chunkLen - 16; skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return Info{}, err
				}
			}
			offset += chunkLen
			haveFmt = true
			// RIFF chunks are word aligned; odd payloads carry a pad byte.
			if chunkLen%2 == 1 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return Info{}, err
				}
				offset++
			}
		case "data":
			if !haveFmt {
				return Info{}, fmt.Errorf("wav data chunk before fmt chunk")
			}
			info.DataSize = chunkLen
			if info.DataSize <= 0 || offset+chunkLen > size {
				info.DataSize = size - offset
			}
			info.DataOffset = offset
			return info, nil
		default:
			skip := chunkLen
			if chunkLen%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return Info{}, err
			}
			offset += skip
		}
	}
}
