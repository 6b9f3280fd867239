package l5model

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

func classIndices(y []int) (neg, pos []int) {
	for i, v := range y {
		if v != 0 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	return neg, pos
}

// StratifiedSplit shuffles each class with seed and holds out testFraction
// of it. A class with at least two members always lands on both sides, so a
// rare positive class is never missing from evaluation. Indices come back
// sorted.
func StratifiedSplit(y []int, testFraction float64, seed uint64) (train, test []int, err error) {
	if !(testFraction > 0 && testFraction < 1) {
		return nil, nil, l1samples.NewConfigError("test_fraction", "must be in (0,1), got %v", testFraction)
	}
	rng := newRand(seed)
	neg, pos := classIndices(y)
	for _, class := range [][]int{neg, pos} {
		idx := append([]int(nil), class...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(testFraction * float64(len(idx))))
		if len(idx) >= 2 {
			nTest = max(1, min(nTest, len(idx)-1))
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	if len(train) == 0 || len(test) == 0 {
		return nil, nil, ErrInsufficientData
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// StratifiedKFold deals each shuffled class round-robin into k folds and
// returns the test indices of every fold, each sorted.
func StratifiedKFold(y []int, k int, seed uint64) ([][]int, error) {
	if k < 2 {
		return nil, l1samples.NewConfigError("cv_folds", "must be at least 2, got %d", k)
	}
	if k > len(y) {
		return nil, l1samples.NewConfigError("cv_folds", "%d folds for %d windows", k, len(y))
	}
	rng := newRand(seed)
	folds := make([][]int, k)
	next := 0
	neg, pos := classIndices(y)
	for _, class := range [][]int{neg, pos} {
		idx := append([]int(nil), class...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			folds[next] = append(folds[next], i)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// Complement returns the indices in [0,n) not present in sorted.
func Complement(n int, sorted []int) []int {
	out := make([]int, 0, n-len(sorted))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(sorted) && sorted[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}

// Subset gathers rows and labels at idx.
func Subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for k, i := range idx {
		xs[k] = X[i]
		ys[k] = y[i]
	}
	return xs, ys
}
