package trajplan

// Polynomial is a single-dimension polynomial with coefficients stored in
// ascending powers of t. A Polynomial is owned by exactly one segment-dimension
// pair and is immutable.
type Polynomial struct {
	coeffs []float64
}

// NewPolynomial creates a polynomial from coefficients in ascending powers.
// The slice is copied.
func NewPolynomial(coefficients []float64) Polynomial {
	c := make([]float64, len(coefficients))
	copy(c, coefficients)
	return Polynomial{coeffs: c}
}

// N returns the number of coefficients.
func (p Polynomial) N() int {
	return len(p.coeffs)
}

// Coefficients returns a copy of the coefficients in ascending powers.
func (p Polynomial) Coefficients() []float64 {
	c := make([]float64, len(p.coeffs))
	copy(c, p.coeffs)
	return c
}

// Evaluate returns the value of the d-th derivative of the polynomial at time
// offset t.
func (p Polynomial) Evaluate(t float64, d Derivative) float64 {
	acc := 0.0
	tPow := 1.0
	for i := int(d); i < len(p.coeffs); i++ {
		acc += p.coeffs[i] * baseCoefficient(i, d) * tPow
		tPow *= t
	}
	return acc
}

// Derivative returns the first derivative of p as a new polynomial, one
// coefficient shorter.
func (p Polynomial) Derivative() Polynomial {
	if len(p.coeffs) <= 1 {
		return Polynomial{coeffs: []float64{0}}
	}
	c := make([]float64, len(p.coeffs)-1)
	for i := 1; i < len(p.coeffs); i++ {
		c[i-1] = p.coeffs[i] * float64(i)
	}
	return Polynomial{coeffs: c}
}

// baseCoefficient is the factor i!/(i-d)! picked up by the i-th coefficient
// when the polynomial is differentiated d times. For i < d the running product
// passes through zero, so the term vanishes as it should.
func baseCoefficient(i int, d Derivative) float64 {
	c := 1.0
	for k := 0; k < int(d); k++ {
		c *= float64(i - k)
	}
	return c
}
