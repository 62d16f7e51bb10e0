// Package wire encodes and decodes the binary payloads carried to
// subscribers. All integers are big-endian. Every payload starts with a
// 4-byte header {packet_type u8, sensor_type u8, length u16} where length
// counts the body bytes that follow the header.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// PacketType distinguishes payload bodies.
type PacketType uint8

const (
	TypeDatapoint  PacketType = 1
	TypeSendReport PacketType = 2
	TypeRecReport  PacketType = 3
)

const (
	HeaderLen = 4
	// FieldLen is the width of one ASCII-encoded float field.
	FieldLen = 20
	// CNameLen is the fixed width of the sender report cname.
	CNameLen = 32
	// SenderReportBodyLen is ntp(8) + ts(4) + packets(4) + octets(4) + cname.
	SenderReportBodyLen = 20 + CNameLen

	maxBody = 0xFFFF
)

var (
	ErrShortPayload  = errors.New("wire: short payload")
	ErrShapeMismatch = errors.New("wire: reading does not match sensor shape")
	ErrTooLarge      = errors.New("wire: payload exceeds 65535 body bytes")
)

// Header is the common payload prefix.
type Header struct {
	Type   PacketType
	Sensor domain.SensorType
	Length uint16
}

// RecordLen is the encoded size of one sample of the given sensor.
func RecordLen(sensor domain.SensorType) int {
	switch sensor.Shape() {
	case domain.ShapeVector3, domain.ShapePosition:
		return 3 * FieldLen
	default:
		return FieldLen
	}
}

// DatapointLen is the full payload size of a DATAPOINT holding n samples.
func DatapointLen(sensor domain.SensorType, n int) int {
	return HeaderLen + 4 + n*RecordLen(sensor)
}

// MaxRecords is the largest number of samples of sensor one DATAPOINT can carry.
func MaxRecords(sensor domain.SensorType) int {
	return (maxBody - 4) / RecordLen(sensor)
}

// EncodeDatapoint builds a DATAPOINT payload carrying readings in order.
func EncodeDatapoint(sensor domain.SensorType, ts int32, readings []domain.Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("wire: datapoint needs at least one reading")
	}
	body := 4 + len(readings)*RecordLen(sensor)
	if body > maxBody {
		return nil, ErrTooLarge
	}

	buf := make([]byte, 0, HeaderLen+body)
	buf = appendHeader(buf, TypeDatapoint, sensor, body)
	buf = binary.BigEndian.AppendUint32(buf, uint32(ts))
	for _, r := range readings {
		if r == nil || r.Shape() != sensor.Shape() {
			return nil, fmt.Errorf("%w: %s got %T", ErrShapeMismatch, sensor, r)
		}
		var err error
		if buf, err = appendRecord(buf, r); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// EncodeSenderReport builds a SENDREPORT payload.
func EncodeSenderReport(r domain.SenderReport) []byte {
	buf := make([]byte, 0, HeaderLen+SenderReportBodyLen)
	buf = appendHeader(buf, TypeSendReport, r.Sensor, SenderReportBodyLen)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.NTP.UnixNano()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.RTPTimestamp))
	buf = binary.BigEndian.AppendUint32(buf, r.PacketCount)
	buf = binary.BigEndian.AppendUint32(buf, r.OctetCount)

	var cname [CNameLen]byte
	copy(cname[:], r.CName)
	return append(buf, cname[:]...)
}

func appendHeader(buf []byte, typ PacketType, sensor domain.SensorType, body int) []byte {
	buf = append(buf, byte(typ), byte(sensor))
	return binary.BigEndian.AppendUint16(buf, uint16(body))
}

func appendRecord(buf []byte, r domain.Reading) ([]byte, error) {
	switch v := r.(type) {
	case domain.Vector3:
		buf = appendField(buf, v.X)
		buf = appendField(buf, v.Y)
		return appendField(buf, v.Z), nil
	case domain.Position:
		buf = appendField(buf, v.Lat)
		buf = appendField(buf, v.Lon)
		return appendField(buf, v.Alt), nil
	case domain.Scalar:
		return appendField(buf, v.Value), nil
	default:
		return nil, fmt.Errorf("%w: unhandled reading type %T", ErrShapeMismatch, r)
	}
}

// appendField writes v as NUL-padded ASCII, shortening the precision until it fits.
func appendField(buf []byte, v float64) []byte {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	for prec := 15; len(s) > FieldLen && prec > 0; prec-- {
		s = strconv.FormatFloat(v, 'g', prec, 64)
	}
	var field [FieldLen]byte
	copy(field[:], s)
	return append(buf, field[:]...)
}

// Datapoint is a decoded DATAPOINT body.
type Datapoint struct {
	Sensor    domain.SensorType
	Timestamp int32
	Readings  []domain.Reading
}

// Message is one decoded payload; exactly one of Datapoint and Report is set.
type Message struct {
	Header    Header
	Datapoint *Datapoint
	Report    *domain.SenderReport
}

// DecodeHeader parses the 4-byte prefix.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortPayload
	}
	return Header{
		Type:   PacketType(b[0]),
		Sensor: domain.SensorType(b[1]),
		Length: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// Decode parses a DATAPOINT or SENDREPORT payload.
func Decode(b []byte) (Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Message{}, err
	}
	body := b[HeaderLen:]
	if len(body) < int(h.Length) {
		return Message{}, fmt.Errorf("%w: header says %d body bytes, have %d", ErrShortPayload, h.Length, len(body))
	}
	body = body[:h.Length]

	switch h.Type {
	case TypeDatapoint:
		dp, err := decodeDatapoint(h.Sensor, body)
		if err != nil {
			return Message{}, err
		}
		return Message{Header: h, Datapoint: dp}, nil
	case TypeSendReport:
		sr, err := decodeSenderReport(h.Sensor, body)
		if err != nil {
			return Message{}, err
		}
		return Message{Header: h, Report: sr}, nil
	default:
		return Message{}, fmt.Errorf("wire: unsupported packet type %d", h.Type)
	}
}

func decodeDatapoint(sensor domain.SensorType, body []byte) (*Datapoint, error) {
	rec := RecordLen(sensor)
	if len(body) < 4+rec || (len(body)-4)%rec != 0 {
		return nil, fmt.Errorf("%w: datapoint body of %d bytes", ErrShortPayload, len(body))
	}
	dp := &Datapoint{
		Sensor:    sensor,
		Timestamp: int32(binary.BigEndian.Uint32(body[:4])),
	}
	for off := 4; off < len(body); off += rec {
		r, err := decodeRecord(sensor.Shape(), body[off:off+rec])
		if err != nil {
			return nil, err
		}
		dp.Readings = append(dp.Readings, r)
	}
	return dp, nil
}

func decodeRecord(shape domain.Shape, b []byte) (domain.Reading, error) {
	var f [3]float64
	n := len(b) / FieldLen
	for i := 0; i < n; i++ {
		v, err := parseField(b[i*FieldLen : (i+1)*FieldLen])
		if err != nil {
			return nil, err
		}
		f[i] = v
	}
	switch shape {
	case domain.ShapeVector3:
		return domain.Vector3{X: f[0], Y: f[1], Z: f[2]}, nil
	case domain.ShapePosition:
		return domain.Position{Lat: f[0], Lon: f[1], Alt: f[2]}, nil
	default:
		return domain.Scalar{Value: f[0]}, nil
	}
}

func parseField(b []byte) (float64, error) {
	s := strings.TrimRight(string(b), "\x00")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: bad float field %q: %w", s, err)
	}
	return v, nil
}

func decodeSenderReport(sensor domain.SensorType, body []byte) (*domain.SenderReport, error) {
	if len(body) < SenderReportBodyLen {
		return nil, fmt.Errorf("%w: sender report body of %d bytes", ErrShortPayload, len(body))
	}
	return &domain.SenderReport{
		Sensor:       sensor,
		NTP:          time.Unix(0, int64(binary.BigEndian.Uint64(body[0:8]))),
		RTPTimestamp: int32(binary.BigEndian.Uint32(body[8:12])),
		PacketCount:  binary.BigEndian.Uint32(body[12:16]),
		OctetCount:   binary.BigEndian.Uint32(body[16:20]),
		CName:        strings.TrimRight(string(body[20:20+CNameLen]), "\x00"),
	}, nil
}
