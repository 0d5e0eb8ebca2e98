// Package field converts raw bytes, strings and integers into elements of the
// BN254 scalar field, the native type of the Poseidon hash and the Groth16
// proofs. Two families of functions are provided and they must not be mixed
// for the same semantic value: the Reduce* functions wrap any input into the
// field by modular reduction, while the canonical ones (FromCanonicalBytes,
// ParseCanonicalHex) reject values outside of the field range.
package field

import (
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
	iden3utils "github.com/iden3/go-iden3-crypto/utils"
	"github.com/vocdoni/zksurvey/types"
	"github.com/vocdoni/zksurvey/util"
)

var (
	modulus = fr.Modulus()
	hexRgx  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)
)

// Zero is the identity padding element of the merkle trees.
var Zero = big.NewInt(0)

// Modulus returns a copy of the field modulus.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// Reduce returns v mod p. Negative values are mapped to their positive
// representative. The input is never modified.
func Reduce(v *big.Int) *big.Int {
	return new(big.Int).Mod(v, modulus)
}

// ReduceBytes interprets b as a big-endian unsigned integer and reduces it
// into the field. It never fails, oversized inputs wrap.
func ReduceBytes(b []byte) *big.Int {
	return Reduce(new(big.Int).SetBytes(b))
}

// FromUint64 returns the field element of v.
func FromUint64(v uint64) *big.Int {
	return Reduce(new(big.Int).SetUint64(v))
}

// FromString reduces a decimal or 0x prefixed hexadecimal string into the
// field.
func FromString(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, types.ErrMalformedHex.Withf("%q is not a number", s)
	}
	return Reduce(v), nil
}

// Canonical reports whether v is already inside the field range [0, p).
func Canonical(v *big.Int) bool {
	return v != nil && iden3utils.CheckBigIntInField(v)
}

// FromCanonicalBytes decodes a 32 bytes big-endian encoding into a field
// element. Unlike ReduceBytes, values equal or greater than the modulus are
// rejected.
func FromCanonicalBytes(b []byte) (*big.Int, error) {
	if len(b) != types.FieldElementSize {
		return nil, types.ErrNonCanonicalField.Withf("expected %d bytes, got %d", types.FieldElementSize, len(b))
	}
	v := new(big.Int).SetBytes(b)
	if !Canonical(v) {
		return nil, types.ErrNonCanonicalField.Withf("0x%x", b)
	}
	return v, nil
}

// ToBytes returns the 32 bytes big-endian encoding of the element.
func ToBytes(v *big.Int) []byte {
	return Reduce(v).FillBytes(make([]byte, types.FieldElementSize))
}

// ToHexFixed32 renders the element as a 0x prefixed, left zero padded,
// lowercase hex string of 64 characters.
func ToHexFixed32(v *big.Int) string {
	return hexutil.Encode(ToBytes(v))
}

// ValidateHex checks that s is a hex string with an optional 0x prefix. If
// require32 is set, the payload must be exactly 64 characters long.
func ValidateHex(s string, require32 bool) error {
	if !hexRgx.MatchString(s) {
		return types.ErrMalformedHex.Withf("%q", s)
	}
	if require32 && len(util.TrimHex(s)) != 2*types.FieldElementSize {
		return types.ErrMalformedHex.Withf("expected %d hex chars, got %d", 2*types.FieldElementSize, len(util.TrimHex(s)))
	}
	return nil
}

// ParseHex validates s (see ValidateHex) and returns its integer value. The
// value is not reduced.
func ParseHex(s string, require32 bool) (*big.Int, error) {
	if err := ValidateHex(s, require32); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(util.TrimHex(s), 16)
	if !ok {
		return nil, types.ErrMalformedHex.Withf("%q", s)
	}
	return v, nil
}

// ParseCanonicalHex parses a 32 bytes hex value and checks it is inside the
// field range.
func ParseCanonicalHex(s string) (*big.Int, error) {
	v, err := ParseHex(s, true)
	if err != nil {
		return nil, err
	}
	if !Canonical(v) {
		return nil, types.ErrNonCanonicalField.Withf("%s", s)
	}
	return v, nil
}

// DecodeHex validates s and decodes it into raw bytes, stripping the optional
// 0x prefix. The payload must have an even length.
func DecodeHex(s string) ([]byte, error) {
	if err := ValidateHex(s, false); err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(util.TrimHex(s))
	if err != nil {
		return nil, types.ErrMalformedHex.WithErr(err)
	}
	return b, nil
}

// NormalizeHex attaches the 0x prefix if absent. The empty path literal "0"
// becomes "0x0".
func NormalizeHex(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	if strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
