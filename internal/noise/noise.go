// Package noise provides the deterministic per-session perturbation used by
// the canvas and audio surfaces.
//
// Hash is a pure function of its inputs. A session seed is drawn once from
// crypto/rand and scoped per surface, so reading the same surface twice in a
// session yields identical output while different sessions disagree.
package noise

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

const (
	primeX       uint32 = 374761393
	primeY       uint32 = 668265263
	primeChannel uint32 = 362437
	mixMul       uint32 = 1274126177

	canvasWidthPrime  uint32 = 8191
	canvasHeightPrime uint32 = 131071
	audioChannelPrime uint32 = 2654435761
)

// Hash maps (seed, x, y, channel) to a value in [-0.5, 0.5).
func Hash(seed uint32, x, y, channel int) float64 {
	n := seed ^ (uint32(x) * primeX) ^ (uint32(y) * primeY) ^ (uint32(channel) * primeChannel)
	n = (n ^ (n >> 13)) * mixMul
	n ^= n >> 16
	n = rotl(n, 7) ^ (n >> 11)
	return float64(n)/4294967296.0 - 0.5
}

func rotl(v uint32, k uint) uint32 {
	return v<<k | v>>(32-k)
}

// NewSessionSeed draws a non-zero seed from the system CSPRNG.
func NewSessionSeed() uint32 {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint32(time.Now().UnixNano()) | 1
	}
	var seed uint32
	for i := 0; i < 4; i++ {
		seed ^= binary.LittleEndian.Uint32(buf[i*4:])
	}
	if seed == 0 {
		seed = uint32(time.Now().UnixNano()) | 1
	}
	return seed
}

// CanvasSeed scopes session to a drawing surface of the given size.
func CanvasSeed(session uint32, width, height int) uint32 {
	return session ^ (uint32(width) * canvasWidthPrime) ^ (uint32(height) * canvasHeightPrime)
}

// AudioSeed scopes session to one audio channel.
func AudioSeed(session uint32, channel int) uint32 {
	return session ^ (uint32(channel+1) * audioChannelPrime)
}

// Delta is Hash scaled to an 8-bit colour channel and the profile magnitude.
func Delta(seed uint32, x, y, channel int, magnitude float64) float64 {
	return Hash(seed, x, y, channel) * 255 * magnitude
}
