package app

import (
	"fmt"
	"math/rand"
)

// CodeGenerator produces candidate join codes; uniqueness is enforced by the session store.
type CodeGenerator func() string

// NumericCodes returns a generator of fixed-width numeric codes without a leading zero.
func NumericCodes(digits int) CodeGenerator {
	if digits < 4 {
		digits = 4
	}
	low := 1
	for i := 1; i < digits; i++ {
		low *= 10
	}
	high := low * 10
	return func() string {
		return fmt.Sprintf("%d", low+rand.Intn(high-low))
	}
}
