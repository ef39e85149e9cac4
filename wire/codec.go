// Package wire implements the binary records exchanged with the game server.
// Multi-byte integers are big-endian. Power values travel as signed 32-bit
// milliwatts (watts * 1000). Decoding is strict: a declared count whose
// implied size does not exactly match the buffer is an error, never a
// partial parse.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

// NullValue in any power field means "value absent".
const NullValue int32 = 0x7FFFFFFF

var (
	ErrLength   = fmt.Errorf("wire: length mismatch")
	ErrTooLarge = fmt.Errorf("wire: count exceeds uint8")
)

const (
	PowerDataSize     = 8
	coeffEntrySize    = 5 // u8 id + i32 mW
	plantEntrySize    = 8 // u32 id + i32 mW
	consumerEntrySize = 4 // u32 id
)

func IsNull(mw int32) bool { return mw == NullValue }

// Milliwatts encodes watts for the wire. NaN encodes as NullValue.
func Milliwatts(w float64) int32 {
	if math.IsNaN(w) {
		return NullValue
	}
	return int32(math.Round(w * 1000))
}

// Watts decodes a wire milliwatt value. NullValue decodes as NaN.
func Watts(mw int32) float64 {
	if mw == NullValue {
		return math.NaN()
	}
	return float64(mw) / 1000
}

// PowerData is the fixed 8 byte production/consumption record.
type PowerData struct {
	Production  int32 // mW
	Consumption int32 // mW
}

func (pd PowerData) Marshal() []byte {
	b := make([]byte, PowerDataSize)
	binary.BigEndian.PutUint32(b[0:], uint32(pd.Production))
	binary.BigEndian.PutUint32(b[4:], uint32(pd.Consumption))
	return b
}

func PowerDataUnmarshal(b []byte) (PowerData, error) {
	if len(b) != PowerDataSize {
		return PowerData{}, errors.Annotatef(ErrLength, "powerdata len=%d expect=%d", len(b), PowerDataSize)
	}
	return PowerData{
		Production:  int32(binary.BigEndian.Uint32(b[0:])),
		Consumption: int32(binary.BigEndian.Uint32(b[4:])),
	}, nil
}

// Coefficient is one entry of a server broadcast array: per-source
// production or per-building consumption, depending on which half it
// came from.
type Coefficient struct {
	ID    uint8
	Value int32 // mW
}

func CoefficientsMarshal(cs []Coefficient) ([]byte, error) {
	if len(cs) > math.MaxUint8 {
		return nil, errors.Annotatef(ErrTooLarge, "coefficients count=%d", len(cs))
	}
	b := make([]byte, 1+len(cs)*coeffEntrySize)
	b[0] = uint8(len(cs))
	off := 1
	for _, c := range cs {
		b[off] = c.ID
		binary.BigEndian.PutUint32(b[off+1:], uint32(c.Value))
		off += coeffEntrySize
	}
	return b, nil
}

// CoefficientsUnmarshal decodes a standalone coefficient array,
// requiring the buffer to contain exactly one array.
func CoefficientsUnmarshal(b []byte) ([]Coefficient, error) {
	cs, rest, err := coefficientsConsume(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.Annotatef(ErrLength, "coefficients trailing=%d", len(rest))
	}
	return cs, nil
}

func coefficientsConsume(b []byte) ([]Coefficient, []byte, error) {
	if len(b) < 1 {
		return nil, nil, errors.Annotatef(ErrLength, "coefficients empty")
	}
	count := int(b[0])
	need := 1 + count*coeffEntrySize
	if len(b) < need {
		return nil, nil, errors.Annotatef(ErrLength, "coefficients count=%d len=%d need=%d", count, len(b), need)
	}
	cs := make([]Coefficient, count)
	off := 1
	for i := 0; i < count; i++ {
		cs[i] = Coefficient{
			ID:    b[off],
			Value: int32(binary.BigEndian.Uint32(b[off+1:])),
		}
		off += coeffEntrySize
	}
	return cs, b[off:], nil
}

// PollUnmarshal decodes a poll body: production array followed
// immediately by consumption array, nothing after.
func PollUnmarshal(b []byte) (prod, cons []Coefficient, err error) {
	prod, rest, err := coefficientsConsume(b)
	if err != nil {
		return nil, nil, errors.Annotate(err, "production")
	}
	cons, rest, err = coefficientsConsume(rest)
	if err != nil {
		return nil, nil, errors.Annotate(err, "consumption")
	}
	if len(rest) != 0 {
		return nil, nil, errors.Annotatef(ErrLength, "poll trailing=%d", len(rest))
	}
	return prod, cons, nil
}

// Plant is a connected power plant report entry.
type Plant struct {
	ID       uint32
	SetPower int32 // mW
}

func PlantsMarshal(ps []Plant) ([]byte, error) {
	if len(ps) > math.MaxUint8 {
		return nil, errors.Annotatef(ErrTooLarge, "plants count=%d", len(ps))
	}
	b := make([]byte, 1+len(ps)*plantEntrySize)
	b[0] = uint8(len(ps))
	off := 1
	for _, p := range ps {
		binary.BigEndian.PutUint32(b[off:], p.ID)
		binary.BigEndian.PutUint32(b[off+4:], uint32(p.SetPower))
		off += plantEntrySize
	}
	return b, nil
}

func PlantsUnmarshal(b []byte) ([]Plant, error) {
	if len(b) < 1 {
		return nil, errors.Annotatef(ErrLength, "plants empty")
	}
	count := int(b[0])
	if len(b) != 1+count*plantEntrySize {
		return nil, errors.Annotatef(ErrLength, "plants count=%d len=%d", count, len(b))
	}
	ps := make([]Plant, count)
	off := 1
	for i := 0; i < count; i++ {
		ps[i] = Plant{
			ID:       binary.BigEndian.Uint32(b[off:]),
			SetPower: int32(binary.BigEndian.Uint32(b[off+4:])),
		}
		off += plantEntrySize
	}
	return ps, nil
}

func ConsumersMarshal(ids []uint32) ([]byte, error) {
	if len(ids) > math.MaxUint8 {
		return nil, errors.Annotatef(ErrTooLarge, "consumers count=%d", len(ids))
	}
	b := make([]byte, 1+len(ids)*consumerEntrySize)
	b[0] = uint8(len(ids))
	off := 1
	for _, id := range ids {
		binary.BigEndian.PutUint32(b[off:], id)
		off += consumerEntrySize
	}
	return b, nil
}

func ConsumersUnmarshal(b []byte) ([]uint32, error) {
	if len(b) < 1 {
		return nil, errors.Annotatef(ErrLength, "consumers empty")
	}
	count := int(b[0])
	if len(b) != 1+count*consumerEntrySize {
		return nil, errors.Annotatef(ErrLength, "consumers count=%d len=%d", count, len(b))
	}
	ids := make([]uint32, count)
	off := 1
	for i := 0; i < count; i++ {
		ids[i] = binary.BigEndian.Uint32(b[off:])
		off += consumerEntrySize
	}
	return ids, nil
}

// RegisterResult is the response body of POST /register:
// [u8 successFlag][u8 msgLen][msgLen bytes].
type RegisterResult struct {
	Success bool
	Message string
}

func RegisterResultUnmarshal(b []byte) (RegisterResult, error) {
	if len(b) < 2 {
		return RegisterResult{}, errors.Annotatef(ErrLength, "register len=%d", len(b))
	}
	msgLen := int(b[1])
	if len(b) != 2+msgLen {
		return RegisterResult{}, errors.Annotatef(ErrLength, "register msglen=%d len=%d", msgLen, len(b))
	}
	return RegisterResult{
		Success: b[0] == 1,
		Message: string(b[2:]),
	}, nil
}
