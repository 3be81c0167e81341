// ABOUTME: Audio device package documentation
// ABOUTME: Period-driven capture and render sessions over several audio APIs
// Package device exposes the default audio devices as period-driven sessions.
//
// A session is negotiated to an interleaved stereo PCM format, started once,
// and then exchanged with once per device period:
//
//	backend, err := device.NewBackend("malgo", device.Options{})
//	capture, err := backend.OpenCapture()
//	format, err := capture.Negotiate(16, 44100)
//	err = capture.Start()
//	for {
//	    if err := capture.WaitReady(time.Second); err != nil {
//	        break
//	    }
//	    frames, err := capture.ReadInto(buf)
//	}
//
// Backends:
//   - malgo: miniaudio, capture, render and loopback (default)
//   - oto: render only, 8 or 16-bit
//   - portaudio: requires -tags portaudio
//   - virtual: software clock, tone or MP3/FLAC capture, discarding render
package device
