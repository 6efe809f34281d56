package wad

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
)

// floatPrec is the mantissa width used by the transcendental helpers. The
// result is truncated to an integer so any width well above 128 bits yields
// identical outputs on every platform.
const floatPrec = 320

var (
	bigScale = new(big.Int).SetUint64(Scale)

	// expWad inputs at or below this bound underflow to zero.
	expLowerBound, _ = new(big.Int).SetString("-42139678854452767551", 10)
	// expWad inputs at or above this bound overflow int256.
	expUpperBound, _ = new(big.Int).SetString("135305999368893231589", 10)

	ln2Once sync.Once
	ln2     *big.Float
)

// Signed converts x into a signed integer.
func Signed(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}

// Unsigned converts a signed integer back, rejecting negative values and
// values wider than 256 bits.
func Unsigned(x *big.Int) (*uint256.Int, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s: %w", x, lending.ErrArithmeticOverflow)
	}
	z, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("value %s: %w", x, lending.ErrArithmeticOverflow)
	}
	return z, nil
}

// SMulWad returns x * y / 1e18 truncated toward zero.
func SMulWad(x, y *big.Int) *big.Int {
	z := new(big.Int).Mul(x, y)
	return z.Quo(z, bigScale)
}

// SDivWad returns x * 1e18 / y truncated toward zero.
func SDivWad(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return nil, fmt.Errorf("sdivwad: %w", lending.ErrArithmeticOverflow)
	}
	z := new(big.Int).Mul(x, bigScale)
	return z.Quo(z, y), nil
}

func newFloat() *big.Float { return new(big.Float).SetPrec(floatPrec) }

func toFloat(x *big.Int) *big.Float {
	f := newFloat().SetInt(x)
	return f.Quo(f, newFloat().SetInt(bigScale))
}

func fromFloat(f *big.Float) *big.Int {
	scaled := newFloat().Mul(f, newFloat().SetInt(bigScale))
	z, _ := scaled.Int(nil)
	return z
}

func negligible(term *big.Float) bool {
	return term.Sign() == 0 || term.MantExp(nil) < -(floatPrec+8)
}

// atanh evaluates the odd series z + z^3/3 + z^5/5 + ... for |z| <= 1/3.
func atanh(z *big.Float) *big.Float {
	sum := newFloat().Set(z)
	power := newFloat().Set(z)
	zz := newFloat().Mul(z, z)
	for n := int64(3); ; n += 2 {
		power.Mul(power, zz)
		term := newFloat().Quo(power, newFloat().SetInt64(n))
		if negligible(term) {
			break
		}
		sum.Add(sum, term)
	}
	return sum
}

func ln2Float() *big.Float {
	ln2Once.Do(func() {
		third := newFloat().Quo(newFloat().SetInt64(1), newFloat().SetInt64(3))
		v := atanh(third)
		ln2 = v.Mul(v, newFloat().SetInt64(2))
	})
	return ln2
}

// ExpWad returns e^(x/1e18) scaled by 1e18.
func ExpWad(x *big.Int) (*big.Int, error) {
	if x.Cmp(expLowerBound) <= 0 {
		return new(big.Int), nil
	}
	if x.Cmp(expUpperBound) >= 0 {
		return nil, fmt.Errorf("expwad %s: %w", x, lending.ErrArithmeticOverflow)
	}
	if x.Sign() == 0 {
		return new(big.Int).Set(bigScale), nil
	}

	// x = k*ln2 + r with |r| <= ln2/2
	xf := toFloat(x)
	l2 := ln2Float()
	kf := newFloat().Quo(xf, l2)
	if kf.Sign() >= 0 {
		kf.Add(kf, newFloat().SetFloat64(0.5))
	} else {
		kf.Sub(kf, newFloat().SetFloat64(0.5))
	}
	k, _ := kf.Int64()
	r := newFloat().Sub(xf, newFloat().Mul(newFloat().SetInt64(k), l2))

	sum := newFloat().SetInt64(1)
	term := newFloat().SetInt64(1)
	for n := int64(1); ; n++ {
		term.Mul(term, r)
		term.Quo(term, newFloat().SetInt64(n))
		if negligible(term) {
			break
		}
		sum.Add(sum, term)
	}
	sum.SetMantExp(sum, int(k))
	return fromFloat(sum), nil
}

// LnWad returns ln(x/1e18) scaled by 1e18.
func LnWad(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, fmt.Errorf("lnwad %s: %w", x, lending.ErrArithmeticOverflow)
	}
	if x.Cmp(bigScale) == 0 {
		return new(big.Int), nil
	}
	// x = m * 2^e with m in [0.5, 1)
	mant := newFloat()
	exp := toFloat(x).MantExp(mant)
	num := newFloat().Sub(mant, newFloat().SetInt64(1))
	den := newFloat().Add(mant, newFloat().SetInt64(1))
	lnm := atanh(num.Quo(num, den))
	lnm.Mul(lnm, newFloat().SetInt64(2))
	lnm.Add(lnm, newFloat().Mul(newFloat().SetInt64(int64(exp)), ln2Float()))
	return fromFloat(lnm), nil
}

// PowWad returns (x/1e18)^(y/1e18) scaled by 1e18 for x > 0.
func PowWad(x, y *big.Int) (*big.Int, error) {
	lnx, err := LnWad(x)
	if err != nil {
		return nil, err
	}
	return ExpWad(SMulWad(lnx, y))
}
