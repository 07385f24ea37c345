// Package registermap accumulates the raw 2-byte register values read
// during a single poll cycle. A map lives for exactly one cycle and is
// never shared across cycles.
package registermap

type RegisterMap map[uint16][]byte

func New() RegisterMap {
	return make(RegisterMap)
}

// Absorb splits a block payload into 2-byte register values stored at
// start, start+1, ... A trailing odd byte is kept as an undersized value
// so FourBytes can flag the register as unusable.
func (m RegisterMap) Absorb(start uint16, payload []byte) {
	for i := 0; i < len(payload); i += 2 {
		end := i + 2
		if end > len(payload) {
			end = len(payload)
		}
		val := make([]byte, end-i)
		copy(val, payload[i:end])
		m[start+uint16(i/2)] = val
	}
}

// FourBytes returns the concatenated raw bytes of the register pair at
// addr and addr+1. Callers must treat any result shorter than 4 bytes
// as "register missing".
func (m RegisterMap) FourBytes(addr uint16) []byte {
	hi, lo := m[addr], m[addr+1]
	raw := make([]byte, 0, 4)
	raw = append(raw, hi...)
	raw = append(raw, lo...)
	return raw
}
