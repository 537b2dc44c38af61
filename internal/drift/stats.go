package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PSI level names per the usual classification.
const (
	PSINone        = "none"
	PSIModerate    = "moderate"
	PSISignificant = "significant"
)

const (
	psiModerateAt    = 0.10
	psiSignificantAt = 0.25
)

// psiBins is the number of bins PSI uses, cut at the baseline deciles.
const psiBins = 10

// psiEpsilon floors bin shares so empty bins cannot produce infinities.
const psiEpsilon = 1e-4

// KolmogorovSmirnov computes the two-sample KS statistic between the baseline
// and window distributions and its asymptotic p-value. Inputs need not be
// sorted; either side empty yields (0, 1).
func KolmogorovSmirnov(baseline, window []float64) (statistic, pValue float64) {
	if len(baseline) == 0 || len(window) == 0 {
		return 0, 1
	}
	x := sortedCopy(baseline)
	y := sortedCopy(window)
	d := stat.KolmogorovSmirnov(x, nil, y, nil)
	return d, ksPValue(d, len(x), len(y))
}

// ksPValue evaluates the Kolmogorov series
// 2*sum_k (-1)^(k-1) * exp(-2 k^2 lambda^2) at the effective sample size,
// with the Stephens small-sample correction on lambda.
func ksPValue(d float64, n1, n2 int) float64 {
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	sqrtNe := math.Sqrt(ne)
	lambda := (sqrtNe + 0.12 + 0.11/sqrtNe) * d
	if lambda < 1e-9 {
		return 1
	}

	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := math.Exp(-2 * float64(k*k) * lambda * lambda)
		sum += sign * term
		if term < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// PSI computes the population stability index of window against baseline,
// over ten bins cut at the baseline deciles.
func PSI(baseline, window []float64) float64 {
	if len(baseline) == 0 || len(window) == 0 {
		return 0
	}
	sorted := sortedCopy(baseline)
	edges := make([]float64, 0, psiBins-1)
	for i := 1; i < psiBins; i++ {
		edges = append(edges, stat.Quantile(float64(i)/psiBins, stat.Empirical, sorted, nil))
	}

	expected := binShares(baseline, edges)
	actual := binShares(window, edges)

	psi := 0.0
	for i := range expected {
		e := math.Max(expected[i], psiEpsilon)
		a := math.Max(actual[i], psiEpsilon)
		psi += (a - e) * math.Log(a/e)
	}
	return psi
}

// PSILevel classifies a PSI value: below 0.1 none, below 0.25 moderate,
// significant from there.
func PSILevel(psi float64) string {
	switch {
	case psi >= psiSignificantAt:
		return PSISignificant
	case psi >= psiModerateAt:
		return PSIModerate
	default:
		return PSINone
	}
}

// binShares distributes values over the bins bounded by edges and returns the
// share per bin. The last bin is open-ended.
func binShares(values []float64, edges []float64) []float64 {
	shares := make([]float64, len(edges)+1)
	for _, v := range values {
		shares[binIndex(v, edges)]++
	}
	n := float64(len(values))
	for i := range shares {
		shares[i] /= n
	}
	return shares
}

func binIndex(v float64, edges []float64) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return len(edges)
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}
