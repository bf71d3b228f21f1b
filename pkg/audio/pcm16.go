package audio

import "encoding/binary"

// PCM16 scale factors. Encoding scales by 32767 so +1.0 maps to the largest
// positive int16; decoding divides by 32768 so -32768 maps to exactly -1.0.
const (
	pcm16EncodeScale = 32767
	pcm16DecodeScale = 32768
)

// EncodePCM16 converts float samples to little-endian int16 PCM. Each sample
// is clamped to [-1, 1], scaled by 32767 and truncated toward zero.
//
// Because decoding divides by 32768 rather than 32767, an encode/decode round
// trip is not within one quantization step (1/32768). The error is bounded by
// (|f|+1)/32768, which approaches two steps near full scale.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	EncodePCM16Into(out, samples)
	return out
}

// EncodePCM16Into is the allocation-free form of [EncodePCM16]. dst must hold
// at least 2*len(samples) bytes. It returns the number of bytes written.
func EncodePCM16Into(dst []byte, samples []float32) int {
	for i, s := range samples {
		if s != s { // NaN
			s = 0
		}
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(s*pcm16EncodeScale)))
	}
	return len(samples) * 2
}

// DecodePCM16 converts little-endian int16 PCM to float samples by dividing
// each value by 32768. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	DecodePCM16Into(out, data)
	return out
}

// DecodePCM16Into is the allocation-free form of [DecodePCM16]. It decodes
// min(len(dst), len(data)/2) samples and returns that count.
func DecodePCM16Into(dst []float32, data []byte) int {
	n := min(len(dst), len(data)/2)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		dst[i] = float32(v) / pcm16DecodeScale
	}
	return n
}
