// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Chunk, SampleBuffer and sample conversion functions
// Package audio provides the PCM types shared by every pcmlink stage.
//
// This package defines:
//   - Format: interleaved stereo PCM (bit depth, sample rate, block alignment)
//   - Chunk: a block of whole frames handed between stages
//   - SampleBuffer: the byte FIFO a stage keeps between its device and its queue
//   - Source: a pull interface for int32 sample generators and file decoders
//
// It also provides conversions between the internal 24-bit int32 sample
// representation and 8/16/24/32-bit containers.
//
// Example:
//
//	format, err := audio.NewFormat(16, 44100)
//	if err != nil {
//	    return err
//	}
//	chunkBytes := format.FrameBytes(4096) // 16384
//
//	buf := audio.NewSampleBuffer(chunkBytes * 4)
//	buf.Append(pcm)
//	for buf.Len() >= chunkBytes {
//	    chunk := audio.Chunk(buf.Pop(chunkBytes))
//	    _ = chunk
//	}
package audio
