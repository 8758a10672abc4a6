package audio

import "time"

// ChunkDuration is the fixed wall-clock length of one audio chunk.
const ChunkDuration = 20 * time.Millisecond

// ChunkSize computes the byte length of one chunk: floor(byteRate x 0.02)
// rounded down to the nearest sample-frame boundary (sampleWidth x channels),
// never below one frame.
func ChunkSize(info Info) int {
	frame := info.SampleWidth * info.Channels
	if frame <= 0 {
		frame = 1
	}
	size := info.ByteRate() * int(ChunkDuration.Milliseconds()) / 1000
	size -= size % frame
	if size < frame {
		size = frame
	}
	return size
}
