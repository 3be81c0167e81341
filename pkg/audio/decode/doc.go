// ABOUTME: File decoders producing int32 sample sources
// ABOUTME: Provides looping MP3 and FLAC sources for software capture
// Package decode opens audio files as audio.Source values.
//
// Supports: MP3 (via go-mp3), FLAC (via mewkiz/flac)
//
// All sources output interleaved int32 samples in 24-bit range and loop
// back to the start of the file at end of stream, so they can feed a
// capture session indefinitely.
//
// Example:
//
//	src, err := decode.OpenFile("music.flac")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//	n, err := src.Read(samples)
package decode
