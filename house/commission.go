package house

import "math/bits"

// MaxBasisPoints is 100%.
const MaxBasisPoints = 10_000

// ValidateRate rejects rates above 100%.
func ValidateRate(bps uint32) error {
	if bps > MaxBasisPoints {
		return ErrRateOutOfBounds.withf("commission rate %d exceeds %d basis points", bps, MaxBasisPoints)
	}
	return nil
}

// ComputeCut returns price * bps / 10000 rounded down. The product is taken
// in 128 bits so it cannot overflow; the quotient never exceeds price.
func ComputeCut(price uint64, bps uint32) (uint64, error) {
	if err := ValidateRate(bps); err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(price, uint64(bps))
	// hi < bps <= 10000, so Div64 cannot panic.
	cut, _ := bits.Div64(hi, lo, MaxBasisPoints)
	return cut, nil
}

// Split divides a winning bid into the house cut and the seller proceeds.
// The two parts always sum to price.
func Split(price uint64, bps uint32) (houseCut, sellerProceeds uint64, err error) {
	houseCut, err = ComputeCut(price, bps)
	if err != nil {
		return 0, 0, err
	}
	return houseCut, price - houseCut, nil
}
