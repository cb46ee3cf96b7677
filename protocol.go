// Package scservo provides a Go driver for Waveshare and Feetech SCS/ST
// series serial bus servos.
package scservo

import (
	"encoding/binary"
	"fmt"
)

// Protocol version constants.
const (
	ProtocolST = iota // ST/STS series: little-endian words
	ProtocolSC        // legacy SC series: big-endian words
)

// Instruction codes for the SCS protocol.
const (
	InstPing     byte = 0x01
	InstRead     byte = 0x02
	InstWrite    byte = 0x03
	InstRegWrite byte = 0x04
	InstAction   byte = 0x05
	InstReset    byte = 0x06
)

// Special ID values.
const (
	BroadcastID byte = 0xFE
	MaxServoID  byte = 0xFD
)

// Packet header bytes.
const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF
)

// minPacketLength is the shortest well-formed frame: header(2) + id(1) +
// length(1) + instruction(1) + checksum(1).
const minPacketLength = 6

// maxParameters bounds the parameter field so the length byte stays valid.
const maxParameters = 252

// StatusError holds the error flags reported by a servo in a status packet.
type StatusError byte

const (
	StatusVoltage     StatusError = 1 << 0
	StatusAngleLimit  StatusError = 1 << 1
	StatusOverheat    StatusError = 1 << 2
	StatusRange       StatusError = 1 << 3
	StatusChecksum    StatusError = 1 << 4
	StatusOverload    StatusError = 1 << 5
	StatusInstruction StatusError = 1 << 6
)

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}

	var msgs []string
	if e&StatusVoltage != 0 {
		msgs = append(msgs, "voltage")
	}
	if e&StatusAngleLimit != 0 {
		msgs = append(msgs, "angle limit")
	}
	if e&StatusOverheat != 0 {
		msgs = append(msgs, "overheat")
	}
	if e&StatusRange != 0 {
		msgs = append(msgs, "range")
	}
	if e&StatusChecksum != 0 {
		msgs = append(msgs, "checksum")
	}
	if e&StatusOverload != 0 {
		msgs = append(msgs, "overload")
	}
	if e&StatusInstruction != 0 {
		msgs = append(msgs, "instruction")
	}

	return fmt.Sprintf("servo status error: %v", msgs)
}

// HasError returns true if any error flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// Packet represents an SCS protocol packet. In instruction packets the
// Instruction field carries the instruction code; in status packets the
// same wire position carries the servo's error flags, exposed as Error.
type Packet struct {
	ID          byte
	Instruction byte
	Parameters  []byte
	Error       StatusError
}

// Protocol handles packet encoding and decoding for a protocol version.
// The version only affects the byte order of multi-byte register values;
// framing and checksums are identical across the family.
type Protocol struct {
	version   int
	byteOrder binary.ByteOrder
}

// NewProtocol creates a protocol handler for the specified version.
func NewProtocol(version int) *Protocol {
	p := &Protocol{version: version}
	if version == ProtocolSC {
		p.byteOrder = binary.BigEndian
	} else {
		p.byteOrder = binary.LittleEndian
	}
	return p
}

// ByteOrder returns the byte order for multi-byte values.
func (p *Protocol) ByteOrder() binary.ByteOrder {
	return p.byteOrder
}

// Version returns the protocol version.
func (p *Protocol) Version() int {
	return p.version
}

// EncodeWord converts a 16-bit value to bytes in protocol byte order.
func (p *Protocol) EncodeWord(value uint16) []byte {
	buf := make([]byte, 2)
	p.byteOrder.PutUint16(buf, value)
	return buf
}

// DecodeWord converts bytes to a 16-bit value using protocol byte order.
func (p *Protocol) DecodeWord(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return p.byteOrder.Uint16(data)
}

// Encode constructs a wire-format packet from the given components.
// The ID must be a unit address (0 to MaxServoID) or BroadcastID, and the
// parameter field must fit the length byte.
func (p *Protocol) Encode(pkt Packet) ([]byte, error) {
	if pkt.ID > MaxServoID && pkt.ID != BroadcastID {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidID, pkt.ID)
	}
	if len(pkt.Parameters) > maxParameters {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(pkt.Parameters), maxParameters)
	}

	length := byte(len(pkt.Parameters) + 2) // params + instruction + checksum

	// Build packet: header(2) + id(1) + length(1) + instruction(1) + params(n) + checksum(1)
	buf := make([]byte, 0, minPacketLength+len(pkt.Parameters))
	buf = append(buf, headerByte1, headerByte2)
	buf = append(buf, pkt.ID)
	buf = append(buf, length)
	buf = append(buf, pkt.Instruction)
	buf = append(buf, pkt.Parameters...)

	checksum := calculateChecksum(buf[2:]) // From ID onwards
	buf = append(buf, checksum)

	return buf, nil
}

// Decode parses a wire-format packet into its components, scanning past
// any garbage bytes before the header. Returns the packet and the number
// of bytes consumed, including skipped garbage, so callers can advance a
// stream across successive calls.
func (p *Protocol) Decode(data []byte) (Packet, int, error) {
	if len(data) < minPacketLength {
		return Packet{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	// Find header
	headerIdx := -1
	for i := 0; i <= len(data)-2; i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return Packet{}, 0, ErrBadSync
	}

	data = data[headerIdx:]
	if len(data) < minPacketLength {
		return Packet{}, 0, fmt.Errorf("%w: %d bytes after header", ErrFrameTooShort, len(data))
	}

	id := data[2]
	length := int(data[3])
	if length < 2 || length-2 > maxParameters {
		return Packet{}, 0, fmt.Errorf("%w: declared length %d", ErrInvalidLength, length)
	}

	totalLen := 4 + length // header(2) + id(1) + length(1) + [length bytes]
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrFrameTooShort, totalLen, len(data))
	}

	expectedChecksum := calculateChecksum(data[2 : totalLen-1])
	actualChecksum := data[totalLen-1]
	if expectedChecksum != actualChecksum {
		return Packet{}, 0, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, expectedChecksum, actualChecksum)
	}

	// The byte after the length is the instruction in request frames and
	// the error flags in status frames; expose it as both.
	pkt := Packet{
		ID:          id,
		Instruction: data[4],
		Error:       StatusError(data[4]),
	}

	paramLen := length - 2 // minus instruction/error byte and checksum
	if paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, data[5:5+paramLen])
	}

	return pkt, headerIdx + totalLen, nil
}

// ExpectedResponseLength returns the wire length of a status packet
// carrying dataLen parameter bytes.
func (p *Protocol) ExpectedResponseLength(dataLen int) int {
	// header(2) + id(1) + length(1) + error(1) + data(n) + checksum(1)
	return minPacketLength + dataLen
}

func calculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// Instruction packet builders

// PingPacket creates a ping instruction packet.
func (p *Protocol) PingPacket(id byte) ([]byte, error) {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstPing,
	})
}

// ReadPacket creates a read instruction packet.
func (p *Protocol) ReadPacket(id, address, length byte) ([]byte, error) {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRead,
		Parameters:  []byte{address, length},
	})
}

// WritePacket creates a write instruction packet.
func (p *Protocol) WritePacket(id, address byte, data []byte) ([]byte, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstWrite,
		Parameters:  params,
	})
}

// RegWritePacket creates a reg write (buffered write) instruction packet.
func (p *Protocol) RegWritePacket(id, address byte, data []byte) ([]byte, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRegWrite,
		Parameters:  params,
	})
}

// ActionPacket creates an action instruction packet, which triggers
// buffered reg writes. Usually sent to BroadcastID.
func (p *Protocol) ActionPacket(id byte) ([]byte, error) {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstAction,
	})
}

// ResetPacket creates a factory reset instruction packet.
func (p *Protocol) ResetPacket(id byte) ([]byte, error) {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstReset,
	})
}
