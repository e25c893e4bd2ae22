package cdr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mcapkit/endian"
	"github.com/arloliu/mcapkit/errs"
	"github.com/arloliu/mcapkit/schema"
)

func TestDecoder_Alignment(t *testing.T) {
	payload := []byte{
		0x00, 0x01, 0x00, 0x00, // little endian header
		0x07,                   // octet
		0x00, 0x00, 0x00,       // padding to 4
		0x2A, 0x00, 0x00, 0x00, // uint32
		0x01, 0x00,             // int16
	}
	d, err := NewDecoder(payload)
	require.NoError(t, err)
	require.Equal(t, endian.GetLittleEndianEngine(), d.ByteOrder())

	o, err := d.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), o)

	u, err := d.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), u)
	require.Equal(t, 8, d.Offset())

	s, err := d.Int16()
	require.NoError(t, err)
	require.Equal(t, int16(1), s)
	require.Zero(t, d.Remaining())
}

func TestDecoder_BigEndian(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02}
	d, err := NewDecoder(payload)
	require.NoError(t, err)

	v, err := d.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x0102), v)
}

func TestEncoder_RoundTrip(t *testing.T) {
	engines := map[string]endian.EndianEngine{
		"little": endian.GetLittleEndianEngine(),
		"big":    endian.GetBigEndianEngine(),
	}
	ld := [LongDoubleSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	for name, engine := range engines {
		t.Run(name, func(t *testing.T) {
			e := NewEncoder(engine)
			e.Bool(true)
			e.Int64(-5)
			e.Int8(-2)
			e.Float32(1.5)
			e.String("hello")
			e.Float64(-0.25)
			e.Uint16(65000)
			e.LongDouble(ld)
			e.WString("héllo")
			e.SequenceLength(3)

			payload := e.Bytes()
			require.Equal(t, engine, endian.FromEncapsulation(payload))

			d, err := NewDecoder(payload)
			require.NoError(t, err)

			b, err := d.Bool()
			require.NoError(t, err)
			require.True(t, b)

			i64, err := d.Int64()
			require.NoError(t, err)
			require.Equal(t, int64(-5), i64)

			i8, err := d.Int8()
			require.NoError(t, err)
			require.Equal(t, int8(-2), i8)

			f32, err := d.Float32()
			require.NoError(t, err)
			require.InDelta(t, 1.5, f32, 0)

			s, err := d.String()
			require.NoError(t, err)
			require.Equal(t, "hello", s)

			f64, err := d.Float64()
			require.NoError(t, err)
			require.InDelta(t, -0.25, f64, 0)

			u16, err := d.Uint16()
			require.NoError(t, err)
			require.Equal(t, uint16(65000), u16)

			gotLD, err := d.LongDouble()
			require.NoError(t, err)
			require.Equal(t, ld, gotLD)

			ws, err := d.WString()
			require.NoError(t, err)
			require.Equal(t, "héllo", ws)

			// The count exceeds the remaining bytes.
			_, err = d.SequenceLength()
			require.ErrorIs(t, err, errs.ErrMalformedPayload)
		})
	}
}

func TestDecoder_Errors(t *testing.T) {
	le := []byte{0x00, 0x01, 0x00, 0x00}

	tests := []struct {
		name    string
		payload []byte
		read    func(d *Decoder) error
		want    error
	}{
		{
			name:    "truncated uint32",
			payload: append(le[:4:4], 0x01, 0x02),
			read:    func(d *Decoder) error { _, err := d.Uint32(); return err },
			want:    errs.ErrUnexpectedEndOfData,
		},
		{
			name:    "truncated padding",
			payload: append(le[:4:4], 0x01, 0x02, 0x03, 0x04, 0x05),
			read: func(d *Decoder) error {
				if _, err := d.Uint8(); err != nil {
					return err
				}
				_, err := d.Uint64()

				return err
			},
			want: errs.ErrUnexpectedEndOfData,
		},
		{
			name:    "invalid boolean",
			payload: append(le[:4:4], 0x02),
			read:    func(d *Decoder) error { _, err := d.Bool(); return err },
			want:    errs.ErrMalformedPayload,
		},
		{
			name:    "string without terminator",
			payload: append(le[:4:4], 0x02, 0x00, 0x00, 0x00, 'a', 'b'),
			read:    func(d *Decoder) error { _, err := d.String(); return err },
			want:    errs.ErrMalformedPayload,
		},
		{
			name:    "string past end",
			payload: append(le[:4:4], 0x09, 0x00, 0x00, 0x00, 'a', 0x00),
			read:    func(d *Decoder) error { _, err := d.String(); return err },
			want:    errs.ErrUnexpectedEndOfData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(tt.payload)
			require.NoError(t, err)
			require.ErrorIs(t, tt.read(d), tt.want)
		})
	}

	_, err := NewDecoder([]byte{0x00, 0x01})
	require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)
}

func TestDecoder_EmptyString(t *testing.T) {
	d, err := NewDecoder([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	s, err := d.String()
	require.NoError(t, err)
	require.Empty(t, s)
}

const poseIDL = `
module geo {
    enum Mode { IDLE, RUN, STOP };
    struct Point { double x; double y; };
    struct Pose {
        octet flags;
        Point center;
        long ids[2];
        string frame;
        Mode mode;
        sequence<float, 4> weights;
        sequence<Point> path;
        boolean valid;
    };
};
`

func encodePose(engine endian.EndianEngine) []byte {
	e := NewEncoder(engine)
	e.Uint8(3)
	e.Float64(1.5)
	e.Float64(-2)
	e.Int32(10)
	e.Int32(20)
	e.String("map")
	e.Uint32(1)
	e.SequenceLength(2)
	e.Float32(0.5)
	e.Float32(0.25)
	e.SequenceLength(1)
	e.Float64(7)
	e.Float64(8)
	e.Bool(true)

	return e.Bytes()
}

func TestDecodeFlat(t *testing.T) {
	desc, err := schema.Load("geo/Pose", 1, []byte(poseIDL))
	require.NoError(t, err)

	for _, engine := range []endian.EndianEngine{endian.GetLittleEndianEngine(), endian.GetBigEndianEngine()} {
		values, err := DecodeFlat(desc, encodePose(engine))
		require.NoError(t, err)

		var names []string
		data := make(map[string]any)
		for _, v := range values {
			names = append(names, v.Name)
			data[v.Name] = v.Data
		}
		require.Equal(t, []string{
			"flags", "center.x", "center.y", "ids[0]", "ids[1]",
			"frame", "mode", "weights", "path", "valid",
		}, names)

		require.Equal(t, uint8(3), data["flags"])
		require.InDelta(t, 1.5, data["center.x"], 0)
		require.InDelta(t, -2.0, data["center.y"], 0)
		require.Equal(t, int32(20), data["ids[1]"])
		require.Equal(t, "map", data["frame"])
		require.Equal(t, uint32(1), data["mode"])
		require.Equal(t, "RUN", values[6].Label)
		require.Equal(t, []any{float32(0.5), float32(0.25)}, data["weights"])
		require.Equal(t, true, data["valid"])

		path, ok := data["path"].([]any)
		require.True(t, ok)
		require.Len(t, path, 1)
		point, ok := path[0].([]Value)
		require.True(t, ok)
		require.Equal(t, "x", point[0].Name)
		require.InDelta(t, 7.0, point[0].Data, 0)
		require.InDelta(t, 8.0, point[1].Data, 0)
	}
}

func TestFlatDecoder_Truncated(t *testing.T) {
	desc, err := schema.Load("geo/Pose", 1, []byte(poseIDL))
	require.NoError(t, err)
	fd, err := NewFlatDecoder(desc)
	require.NoError(t, err)

	payload := encodePose(endian.GetLittleEndianEngine())
	_, err = fd.Decode(payload[:len(payload)-1])
	require.ErrorIs(t, err, errs.ErrUnexpectedEndOfData)
	require.ErrorContains(t, err, "field valid")

	values, err := fd.Decode(payload)
	require.NoError(t, err)
	require.Len(t, values, 10)
}

func TestDecodeFlat_NoStruct(t *testing.T) {
	desc, err := schema.Load("E", 1, []byte("enum E { A };"))
	require.NoError(t, err)

	_, err = DecodeFlat(desc, []byte{0x00, 0x01, 0x00, 0x00})
	require.ErrorIs(t, err, errs.ErrUnsupportedConstruct)
}

func TestPrimitive_Unknown(t *testing.T) {
	d, err := NewDecoder([]byte{0x00, 0x01, 0x00, 0x00, 0x01})
	require.NoError(t, err)

	_, err = Primitive(d, "fixed")
	require.ErrorIs(t, err, errs.ErrUnsupportedConstruct)
}
