package field

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/zksurvey/types"
)

func TestReduce(t *testing.T) {
	c := qt.New(t)
	p := Modulus()

	c.Assert(Reduce(p).Sign(), qt.Equals, 0)
	c.Assert(Reduce(new(big.Int).Add(p, big.NewInt(5))).Int64(), qt.Equals, int64(5))
	c.Assert(Reduce(big.NewInt(-1)).Cmp(new(big.Int).Sub(p, big.NewInt(1))), qt.Equals, 0)

	// oversized inputs wrap instead of failing
	oversized := make([]byte, 64)
	for i := range oversized {
		oversized[i] = 0xff
	}
	c.Assert(Canonical(ReduceBytes(oversized)), qt.IsTrue)

	v, err := FromString("0x10")
	c.Assert(err, qt.IsNil)
	c.Assert(v.Int64(), qt.Equals, int64(16))
	v, err = FromString("42")
	c.Assert(err, qt.IsNil)
	c.Assert(v.Cmp(FromUint64(42)), qt.Equals, 0)
	_, err = FromString("forty two")
	c.Assert(errors.Is(err, types.ErrMalformedInput), qt.IsTrue)
}

func TestCanonicalBytes(t *testing.T) {
	c := qt.New(t)
	p := Modulus()

	_, err := FromCanonicalBytes(p.FillBytes(make([]byte, 32)))
	c.Assert(errors.Is(err, types.ErrNonCanonicalField), qt.IsTrue)

	pMinusOne := new(big.Int).Sub(p, big.NewInt(1))
	v, err := FromCanonicalBytes(pMinusOne.FillBytes(make([]byte, 32)))
	c.Assert(err, qt.IsNil)
	c.Assert(v.Cmp(pMinusOne), qt.Equals, 0)

	_, err = FromCanonicalBytes([]byte{1, 2, 3})
	c.Assert(errors.Is(err, types.ErrMalformedInput), qt.IsTrue)

	// the same bytes reduce without error
	c.Assert(ReduceBytes(p.FillBytes(make([]byte, 32))).Sign(), qt.Equals, 0)
}

func TestToHexFixed32(t *testing.T) {
	c := qt.New(t)
	c.Assert(ToHexFixed32(big.NewInt(0)), qt.Equals, "0x"+strings.Repeat("0", 64))
	c.Assert(ToHexFixed32(big.NewInt(255)), qt.Equals, "0x"+strings.Repeat("0", 62)+"ff")

	v := ReduceBytes([]byte("some value that is long enough to fill the field"))
	s := ToHexFixed32(v)
	c.Assert(s, qt.HasLen, 66)
	back, err := ParseCanonicalHex(s)
	c.Assert(err, qt.IsNil)
	c.Assert(back.Cmp(v), qt.Equals, 0)
}

func TestValidateHex(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		require32 bool
		ok        bool
	}{
		{"63 chars", "0x" + strings.Repeat("a", 63), true, false},
		{"64 chars", "0x" + strings.Repeat("a", 64), true, true},
		{"64 chars no prefix", strings.Repeat("A", 64), true, true},
		{"65 chars", "0x" + strings.Repeat("a", 65), true, false},
		{"short any length", "0xabc", false, true},
		{"prefix only", "0x", false, false},
		{"empty", "", false, false},
		{"not hex", "0xzz", false, false},
		{"inner space", "0xab cd", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHex(tc.in, tc.require32)
			if tc.ok {
				qt.Assert(t, err, qt.IsNil)
				return
			}
			qt.Assert(t, errors.Is(err, types.ErrMalformedInput), qt.IsTrue)
		})
	}
}

func TestParseCanonicalHex(t *testing.T) {
	c := qt.New(t)
	_, err := ParseCanonicalHex("0x" + strings.Repeat("f", 64))
	c.Assert(errors.Is(err, types.ErrNonCanonicalField), qt.IsTrue)

	v, err := ParseHex("0x"+strings.Repeat("f", 64), true)
	c.Assert(err, qt.IsNil)
	c.Assert(Canonical(v), qt.IsFalse)
}

func TestDecodeHex(t *testing.T) {
	c := qt.New(t)
	b, err := DecodeHex("0xdeadbeef")
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.DeepEquals, []byte{0xde, 0xad, 0xbe, 0xef})

	_, err = DecodeHex("0xabc")
	c.Assert(errors.Is(err, types.ErrMalformedHex), qt.IsTrue)
}

func TestNormalizeHex(t *testing.T) {
	c := qt.New(t)
	c.Assert(NormalizeHex("0"), qt.Equals, "0x0")
	c.Assert(NormalizeHex("ab"), qt.Equals, "0xab")
	c.Assert(NormalizeHex("0xab"), qt.Equals, "0xab")
}
