// ABOUTME: PCM encoder package
// ABOUTME: Turns int32 samples into the little-endian container used on the wire
// Package encode provides the PCM encoder used by software capture sources.
//
// Supports 8-bit (unsigned), 16, 24 and 32-bit (signed) little-endian PCM.
// Input samples are int32 in the 24-bit range.
//
// Example:
//
//	encoder, err := encode.NewPCM(format)
//	data := encoder.Encode(samples)
package encode
