package prodlayer

// Mode selects the evaluation domain of a layer, and with it the combine
// operator of the dense reductions.
//
// A product of probabilities is a sum of their logarithms, so in ModeLog the
// combine operator is addition and the neutral element 0; in ModeLinear the
// combine operator is multiplication and the neutral element 1.
type Mode int

const (
	// ModeLog evaluates in log-domain: values are log-probabilities and
	// products become sums.
	ModeLog Mode = iota

	// ModeLinear evaluates in linear domain: values are probabilities and
	// products stay products.
	ModeLinear
)

//go:generate enumer -type=Mode -trimprefix=Mode -transform=snake -values -text mode.go

// Neutral returns the neutral element of the mode's combine operator: 0 for
// ModeLog, 1 for ModeLinear. The dummy row 0 of every buffer must be filled
// with it before evaluating (see buffers.Buffer.FillRow).
func (i Mode) Neutral() float64 {
	if i == ModeLinear {
		return 1
	}
	return 0
}
