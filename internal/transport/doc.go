// ABOUTME: UDP transport package documentation
// ABOUTME: One chunk per datagram, raw PCM payload, no header
// Package transport moves audio chunks over UDP.
//
// Each chunk is written as exactly one datagram with no header, sequence
// number or format tag. The receiver forwards datagrams in arrival order and
// trims any trailing partial frame so playback stays frame aligned.
package transport
