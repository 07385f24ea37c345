// Builds and validates Modbus RTU frames for the register poller.
// The checksum must match the meter bit-for-bit (CRC-16 with initial
// value 0xFFFF and reflected polynomial 0xA001, low byte first on the
// wire), so interoperability lives here and nowhere else.
package framecodec

import (
	"io"
	"time"

	"github.com/sigurn/crc16"
)

const (
	FuncReadHolding = 0x03
	FuncReadInput   = 0x04
)

// Minimum bytes before a response header can be trusted:
// unit id + function code + byte count + 2-byte CRC.
const minResponseLen = 5

// CRC16_MODBUS is the 0xFFFF/0xA001 algorithm in table form.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the frame CRC as it appears on the wire: low byte first.
func Checksum(data []byte) []byte {
	crc := crc16.Checksum(data, crcTable)
	return []byte{byte(crc & 0xFF), byte(crc >> 8)}
}

// BuildPollFrame builds a read request for qty registers starting at start.
func BuildPollFrame(unitID byte, start, qty uint16, function byte) []byte {
	frame := []byte{
		unitID,
		function,
		byte(start >> 8), byte(start & 0xFF),
		byte(qty >> 8), byte(qty & 0xFF),
	}
	return append(frame, Checksum(frame)...)
}

// ValidateResponse reports whether frame is a well-formed response from
// the expected unit: long enough, CRC over everything but the trailer
// matches the trailer, and the header echoes unit id and function code.
func ValidateResponse(frame []byte, unitID, function byte) bool {
	if len(frame) < minResponseLen {
		return false
	}
	sum := Checksum(frame[:len(frame)-2])
	return frame[0] == unitID &&
		frame[1] == function &&
		sum[0] == frame[len(frame)-2] &&
		sum[1] == frame[len(frame)-1]
}

// AccumulateResponse collects a response from r in small increments.
// The third byte of a read response declares the payload length, so once
// 1+1+1+byteCount+2 bytes have arrived the frame is complete. On timeout
// whatever was collected is returned; the caller validates it. Never
// blocks past the deadline as long as r honors short reads.
func AccumulateResponse(r io.Reader, timeout time.Duration) []byte {
	var buf []byte
	chunk := make([]byte, 64)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		if len(buf) >= minResponseLen {
			expected := 1 + 1 + 1 + int(buf[2]) + 2
			if len(buf) >= expected {
				return buf[:expected]
			}
		}
	}
	return buf
}
