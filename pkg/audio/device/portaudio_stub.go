//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Reports the backend as unavailable unless built with -tags portaudio
package device

import "fmt"

// PortAudio backend (stub)
type PortAudio struct{}

// NewPortAudio always fails without the portaudio build tag
func NewPortAudio(opts Options) (*PortAudio, error) {
	return nil, fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", ErrDeviceUnavailable)
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) OpenCapture() (Capture, error) {
	return nil, fmt.Errorf("%w: PortAudio support not enabled", ErrDeviceUnavailable)
}

func (p *PortAudio) OpenRender() (Render, error) {
	return nil, fmt.Errorf("%w: PortAudio support not enabled", ErrDeviceUnavailable)
}

func (p *PortAudio) Close() error { return nil }
