// Package udp is a CoAP-like datagram transport: confirmable and
// non-confirmable messages with message ids, tokens and observe
// registration, guarded by a CRC-16/MODBUS trailer.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// MessageType mirrors CoAP's message types.
type MessageType uint8

const (
	TypeCON MessageType = 0
	TypeNON MessageType = 1
	TypeACK MessageType = 2
	TypeRST MessageType = 3
)

// Code is the request method or response status of a frame.
type Code uint8

const (
	CodeEmpty      Code = 0
	CodeGet        Code = 1
	CodeContent    Code = 69  // 2.05
	CodeBadRequest Code = 128 // 4.00
	CodeNotFound   Code = 132 // 4.04
)

// Observe option values carried by a GET.
const (
	ObserveRegister   uint8 = 0
	ObserveDeregister uint8 = 1
	ObserveNone       uint8 = 0xFF
)

const (
	flagConfirmable = 1 << 0
	flagRepeatLast  = 1 << 1
)

const (
	frameOverhead = 5 + 2 // type, code, id, token length + crc
	MaxTokenLen   = 8
	// getBodyLen is observe(1) + sensor(1) + frequency(2) + flags(1) + batch(1).
	getBodyLen = 6
	// MaxFrameLen bounds one datagram.
	MaxFrameLen = 64 * 1024
)

var (
	ErrShortFrame = errors.New("udp: short frame")
	ErrChecksum   = errors.New("udp: checksum mismatch")
	ErrTokenLen   = errors.New("udp: token too long")
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func crc16Modbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Frame is one decoded datagram.
type Frame struct {
	Type      MessageType
	Code      Code
	MessageID uint16
	Token     string
	Body      []byte
}

// Marshal lays the frame out as type|code|id|token_len|token|body|crc16.
func (f Frame) Marshal() ([]byte, error) {
	if len(f.Token) > MaxTokenLen {
		return nil, ErrTokenLen
	}
	buf := make([]byte, 0, frameOverhead+len(f.Token)+len(f.Body))
	buf = append(buf, byte(f.Type), byte(f.Code))
	buf = binary.BigEndian.AppendUint16(buf, f.MessageID)
	buf = append(buf, byte(len(f.Token)))
	buf = append(buf, f.Token...)
	buf = append(buf, f.Body...)
	return binary.BigEndian.AppendUint16(buf, crc16Modbus(buf)), nil
}

// Unmarshal checks the trailer and splits a datagram into its fields.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < frameOverhead {
		return Frame{}, ErrShortFrame
	}
	n := len(b) - 2
	if crc16Modbus(b[:n]) != binary.BigEndian.Uint16(b[n:]) {
		return Frame{}, ErrChecksum
	}
	tokenLen := int(b[4])
	if tokenLen > MaxTokenLen {
		return Frame{}, ErrTokenLen
	}
	if 5+tokenLen > n {
		return Frame{}, ErrShortFrame
	}
	return Frame{
		Type:      MessageType(b[0]),
		Code:      Code(b[1]),
		MessageID: binary.BigEndian.Uint16(b[2:4]),
		Token:     string(b[5 : 5+tokenLen]),
		Body:      append([]byte(nil), b[5+tokenLen:n]...),
	}, nil
}

// Get is the body of a GET request.
type Get struct {
	Observe   uint8
	Sensor    domain.SensorType
	Frequency int
	Options   domain.StreamOptions
}

func (g Get) Marshal() []byte {
	var flags byte
	if g.Options.Confirmable {
		flags |= flagConfirmable
	}
	if g.Options.RepeatLast {
		flags |= flagRepeatLast
	}
	freq := g.Frequency
	if freq < 0 {
		freq = 0
	}
	if freq > 0xFFFF {
		freq = 0xFFFF
	}
	batch := g.Options.BatchSize
	if batch < 0 || batch > 0xFF {
		batch = 0
	}
	b := []byte{g.Observe, byte(g.Sensor), 0, 0, flags, byte(batch)}
	binary.BigEndian.PutUint16(b[2:4], uint16(freq))
	return b
}

func parseGet(body []byte) (Get, error) {
	if len(body) < getBodyLen {
		return Get{}, fmt.Errorf("%w: get body of %d bytes", ErrShortFrame, len(body))
	}
	return Get{
		Observe:   body[0],
		Sensor:    domain.SensorType(body[1]),
		Frequency: int(binary.BigEndian.Uint16(body[2:4])),
		Options: domain.StreamOptions{
			Confirmable: body[4]&flagConfirmable != 0,
			RepeatLast:  body[4]&flagRepeatLast != 0,
			BatchSize:   int(body[5]),
		},
	}, nil
}
