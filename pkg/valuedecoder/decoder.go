// Package valuedecoder turns 4 raw register bytes into a physical value.
// The meter stores 32-bit floats, but the byte/word order on the wire is
// device-dependent, so the decoder supports both a fixed, known order and
// a discovery mode that enumerates every ordering against plausibility
// windows.
package valuedecoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WordOrders lists all 24 byte-position permutations in alphabetical
// order. Discovery walks this list top to bottom; the ordering is part
// of the contract so discovered results stay reproducible.
var WordOrders = []string{
	"ABCD", "ABDC", "ACBD", "ACDB", "ADBC", "ADCB",
	"BACD", "BADC", "BCAD", "BCDA", "BDAC", "BDCA",
	"CABD", "CADB", "CBAD", "CBDA", "CDAB", "CDBA",
	"DABC", "DACB", "DBAC", "DBCA", "DCAB", "DCBA",
}

// DefaultScales are tried in this order during discovery.
var DefaultScales = []float64{1.0, 0.1, 0.01, 0.001}

var (
	ErrShortValue        = errors.New("need 4 raw bytes")
	ErrBadWordOrder      = errors.New("invalid word order")
	ErrNoPlausibleDecode = errors.New("no plausible decode candidate")
)

// Candidate is one (order, scale) pairing found by discovery.
type Candidate struct {
	Order string
	Scale float64
	Value float64
}

// Reorder maps the 4 raw bytes into big-endian layout according to
// order, where "A" is the first wire byte and "D" the last.
func Reorder(raw4 []byte, order string) ([]byte, error) {
	if len(raw4) != 4 {
		return nil, ErrShortValue
	}
	if len(order) != 4 {
		return nil, fmt.Errorf("%w: %q", ErrBadWordOrder, order)
	}
	out := make([]byte, 4)
	for i := 0; i < 4; i++ {
		pos := order[i] - 'A'
		if pos > 3 {
			return nil, fmt.Errorf("%w: %q", ErrBadWordOrder, order)
		}
		out[i] = raw4[pos]
	}
	return out, nil
}

// DecodeFloat decodes raw4 as a big-endian IEEE-754 float32 after
// reordering, then applies scale.
func DecodeFloat(raw4 []byte, order string, scale float64) (float64, error) {
	reordered, err := Reorder(raw4, order)
	if err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint32(reordered)
	return float64(math.Float32frombits(bits)) * scale, nil
}

// Plausible reports whether v sits in any window a real electrical
// signal from this class of meter could occupy: mains voltage, mains
// frequency, power factor, a small unclassified signal, or a power
// level within a few kW of zero.
func Plausible(v float64) bool {
	switch {
	case v >= 180 && v <= 260:
		return true
	case v >= 45 && v <= 55:
		return true
	case v >= 0 && v <= 10:
		return true
	case v >= -5000 && v <= 5000:
		return true
	case v >= 0 && v <= 1.2:
		return true
	}
	return false
}

// Discover enumerates word orders alphabetically and scales in
// DefaultScales order, returning the first candidate plausible accepts.
// First match wins; there is no scoring. Pass nil to use Plausible.
func Discover(raw4 []byte, plausible func(float64) bool) (Candidate, error) {
	if len(raw4) != 4 {
		return Candidate{}, ErrShortValue
	}
	if plausible == nil {
		plausible = Plausible
	}
	for _, order := range WordOrders {
		base, err := DecodeFloat(raw4, order, 1.0)
		if err != nil {
			return Candidate{}, err
		}
		for _, scale := range DefaultScales {
			v := base * scale
			if plausible(v) {
				return Candidate{Order: order, Scale: scale, Value: v}, nil
			}
		}
	}
	return Candidate{}, ErrNoPlausibleDecode
}
