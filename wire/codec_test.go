package wire

import (
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderInvolutive(t *testing.T) {
	t.Parallel()

	for _, v := range []uint16{0, 1, 0xff00, 0xabcd, math.MaxUint16} {
		assert.Equal(t, v, NetworkToHost16(HostToNetwork16(v)), "v=%04x", v)
	}
	for _, v := range []uint32{0, 1, 0xdeadbeef, 0x7fffffff, math.MaxUint32} {
		assert.Equal(t, v, NetworkToHost32(HostToNetwork32(v)), "v=%08x", v)
	}
	for _, v := range []uint64{0, 1, 0xdeadbeefcafe1234, math.MaxUint64} {
		assert.Equal(t, v, NetworkToHost64(HostToNetwork64(v)), "v=%016x", v)
	}
	assert.Equal(t, uint32(0x78563412), HostToNetwork32(0x12345678))
	assert.Equal(t, uint16(0x3412), HostToNetwork16(0x1234))
}

func TestPowerDataRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []PowerData{
		{},
		{Production: 1500, Consumption: 200},
		{Production: -5000, Consumption: NullValue},
		{Production: NullValue, Consumption: NullValue},
	}
	for _, pd := range cases {
		b := pd.Marshal()
		require.Len(t, b, PowerDataSize)
		back, err := PowerDataUnmarshal(b)
		require.NoError(t, err)
		assert.Equal(t, pd, back)
	}

	_, err := PowerDataUnmarshal([]byte{1, 2, 3})
	assert.Equal(t, ErrLength, errors.Cause(err))
}

func TestPowerDataExample(t *testing.T) {
	t.Parallel()

	// 1.5W production, 0.2W consumption
	pd := PowerData{Production: Milliwatts(1.5), Consumption: Milliwatts(0.2)}
	assert.Equal(t, []byte{0x00, 0x00, 0x05, 0xdc, 0x00, 0x00, 0x00, 0xc8}, pd.Marshal())
}

func TestCoefficientsRoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]Coefficient{
		{},
		{{ID: 5, Value: 200}},
		{{ID: 0, Value: 0}, {ID: 255, Value: -1}, {ID: 7, Value: NullValue}},
	}
	for _, cs := range cases {
		b, err := CoefficientsMarshal(cs)
		require.NoError(t, err)
		back, err := CoefficientsUnmarshal(b)
		require.NoError(t, err)
		assert.Equal(t, cs, back)
	}
}

func TestCoefficientsStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"short", []byte{2, 5, 0, 0, 0, 1}},
		{"trailing", []byte{1, 5, 0, 0, 0, 1, 0xff}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := CoefficientsUnmarshal(c.input)
			require.Error(t, err)
			assert.Equal(t, ErrLength, errors.Cause(err))
		})
	}
}

func TestPollUnmarshalExample(t *testing.T) {
	t.Parallel()

	// prodCount=1 {id=5 value=200mW} consCount=0
	body := []byte{0x01, 0x05, 0x00, 0x00, 0x00, 0xc8, 0x00}
	prod, cons, err := PollUnmarshal(body)
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, Coefficient{ID: 5, Value: 200}, prod[0])
	assert.InDelta(t, 0.200, Watts(prod[0].Value), 1e-9)
	assert.Len(t, cons, 0)
}

func TestPollUnmarshalStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"only-production", []byte{0x01, 0x05, 0x00, 0x00, 0x00, 0xc8}},
		{"production-overflow", []byte{0x09, 0x05, 0x00, 0x00, 0x00, 0xc8, 0x00}},
		{"consumption-overflow", []byte{0x00, 0x02, 0x01, 0x00, 0x00, 0x00, 0x64}},
		{"trailing", []byte{0x00, 0x00, 0xee}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, _, err := PollUnmarshal(c.input)
			require.Error(t, err)
			assert.Equal(t, ErrLength, errors.Cause(err))
		})
	}
}

func TestPlantsRoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]Plant{
		{},
		{{ID: 1, SetPower: 0}},
		{{ID: 0xdeadbeef, SetPower: -42000}, {ID: 2, SetPower: NullValue}},
	}
	for _, ps := range cases {
		b, err := PlantsMarshal(ps)
		require.NoError(t, err)
		back, err := PlantsUnmarshal(b)
		require.NoError(t, err)
		assert.Equal(t, ps, back)
	}

	_, err := PlantsUnmarshal([]byte{2, 0, 0, 0, 1})
	assert.Equal(t, ErrLength, errors.Cause(err))
}

func TestConsumersRoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]uint32{
		{},
		{7},
		{0, 1, math.MaxUint32},
	}
	for _, ids := range cases {
		b, err := ConsumersMarshal(ids)
		require.NoError(t, err)
		back, err := ConsumersUnmarshal(b)
		require.NoError(t, err)
		assert.Equal(t, ids, back)
	}

	_, err := ConsumersUnmarshal([]byte{1, 0, 0})
	assert.Equal(t, ErrLength, errors.Cause(err))
}

func TestRegisterResult(t *testing.T) {
	t.Parallel()

	msg := "bad board!!"
	body := append([]byte{0, byte(len(msg))}, msg...)
	r, err := RegisterResultUnmarshal(body)
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, "bad board!!", r.Message)

	ok, err := RegisterResultUnmarshal([]byte{1, 0})
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, "", ok.Message)

	_, err = RegisterResultUnmarshal([]byte{1})
	assert.Equal(t, ErrLength, errors.Cause(err))
	_, err = RegisterResultUnmarshal([]byte{1, 5, 'h', 'i'})
	assert.Equal(t, ErrLength, errors.Cause(err))
}

func TestMilliwatts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(200), Milliwatts(0.2))
	assert.Equal(t, int32(-1500), Milliwatts(-1.5))
	assert.Equal(t, NullValue, Milliwatts(math.NaN()))
	assert.True(t, math.IsNaN(Watts(NullValue)))
	assert.True(t, IsNull(NullValue))
	assert.False(t, IsNull(0))
}
