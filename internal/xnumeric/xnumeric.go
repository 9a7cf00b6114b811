// Package xnumeric provides small runtime-dispatch helpers over the
// element kinds a tensor buffer can carry (real/complex, single/double
// precision), replacing the templated variadic overloads of the original
// engine's numeric layer with an explicit Kind enum and a dispatch
// switch, since Go has no template instantiation to lean on here.
package xnumeric

import "fmt"

// Kind names a tensor element's numeric representation.
type Kind int

const (
	Real32 Kind = iota
	Real64
	Complex64
	Complex128
)

func (k Kind) String() string {
	switch k {
	case Real32:
		return "real32"
	case Real64:
		return "real64"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ByteSize returns the storage size of one element of this kind.
func (k Kind) ByteSize() int {
	switch k {
	case Real32:
		return 4
	case Real64:
		return 8
	case Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// IsComplex reports whether the kind carries an imaginary component.
func (k Kind) IsComplex() bool { return k == Complex64 || k == Complex128 }

// ToComplex128 widens a value already known to be of kind k, stored as
// complex128 (real kinds carry a zero imaginary part), into complex128 —
// the engine's internal working precision for the reference host
// backend.
func ToComplex128(k Kind, real, imag float64) (complex128, error) {
	switch k {
	case Real32, Real64:
		return complex(real, 0), nil
	case Complex64, Complex128:
		return complex(real, imag), nil
	default:
		return 0, fmt.Errorf("xnumeric: unknown kind %v", k)
	}
}

// NarrowFrom converts a complex128 working value back down to the target
// kind's representation, dropping the imaginary part for real kinds.
func NarrowFrom(k Kind, v complex128) (real, imag float64, err error) {
	switch k {
	case Real32, Real64:
		return real2(v), 0, nil
	case Complex64, Complex128:
		return real2(v), imag2(v), nil
	default:
		return 0, 0, fmt.Errorf("xnumeric: unknown kind %v", k)
	}
}

func real2(v complex128) float64 { return float64(real(v)) }
func imag2(v complex128) float64 { return float64(imag(v)) }
