package l5model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

// ErrInsufficientData is returned when there are too few rows to train or
// split.
var ErrInsufficientData = errors.New("not enough labelled windows to train")

// Params are the boosting hyperparameters. Names follow the usual gradient
// boosting vocabulary so tuned values carry over.
type Params struct {
	NEstimators     int     `json:"n_estimators"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	MinChildWeight  float64 `json:"min_child_weight"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	Gamma           float64 `json:"gamma"`
	RegLambda       float64 `json:"reg_lambda"`
	RegAlpha        float64 `json:"reg_alpha"`
	MaxBins         int     `json:"max_bins"`
	ScalePosWeight  float64 `json:"scale_pos_weight"`
	Seed            uint64  `json:"seed"`
}

// DefaultParams are the reference hyperparameters for accident detection.
func DefaultParams() Params {
	return Params{
		NEstimators:     600,
		LearningRate:    0.05,
		MaxDepth:        6,
		MinChildWeight:  4,
		Subsample:       0.85,
		ColsampleByTree: 0.8,
		Gamma:           0.5,
		RegLambda:       1.5,
		RegAlpha:        0.1,
		MaxBins:         256,
		ScalePosWeight:  1,
		Seed:            42,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.NEstimators <= 0:
		return l1samples.NewConfigError("n_estimators", "must be positive, got %d", p.NEstimators)
	case !(p.LearningRate > 0):
		return l1samples.NewConfigError("learning_rate", "must be positive, got %v", p.LearningRate)
	case p.MaxDepth <= 0:
		return l1samples.NewConfigError("max_depth", "must be positive, got %d", p.MaxDepth)
	case p.MinChildWeight < 0:
		return l1samples.NewConfigError("min_child_weight", "must be non-negative, got %v", p.MinChildWeight)
	case !(p.Subsample > 0 && p.Subsample <= 1):
		return l1samples.NewConfigError("subsample", "must be in (0,1], got %v", p.Subsample)
	case !(p.ColsampleByTree > 0 && p.ColsampleByTree <= 1):
		return l1samples.NewConfigError("colsample_bytree", "must be in (0,1], got %v", p.ColsampleByTree)
	case p.Gamma < 0 || p.RegLambda < 0 || p.RegAlpha < 0:
		return l1samples.NewConfigError("regularisation", "gamma, reg_lambda and reg_alpha must be non-negative")
	case p.MaxBins < 2 || p.MaxBins > 256:
		return l1samples.NewConfigError("max_bins", "must be in [2,256], got %d", p.MaxBins)
	case !(p.ScalePosWeight > 0):
		return l1samples.NewConfigError("scale_pos_weight", "must be positive, got %v", p.ScalePosWeight)
	}
	return nil
}

// Booster is an additive ensemble of regression trees over the logit.
// Learning rate is folded into leaf values.
type Booster struct {
	NumFeatures int       `json:"num_features"`
	BaseMargin  float64   `json:"base_margin"`
	Trees       []Tree    `json:"trees"`
	Gain        []float64 `json:"gain"` // total split gain per feature
}

// Margin returns the raw logit for row.
func (b *Booster) Margin(row []float64) float64 {
	m := b.BaseMargin
	for i := range b.Trees {
		m += b.Trees[i].Predict(row)
	}
	return m
}

// PredictProba returns the positive-class probability for row.
func (b *Booster) PredictProba(row []float64) float64 {
	return sigmoid(b.Margin(row))
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

// binned is the training matrix quantised per feature. cuts[f][c] is the
// upper edge of bin c; values above every cut fall in the last bin.
type binned struct {
	cuts [][]float64
	bins [][]uint8 // [feature][row]
}

func quantise(X [][]float64, maxBins int) *binned {
	n, nf := len(X), len(X[0])
	b := &binned{cuts: make([][]float64, nf), bins: make([][]uint8, nf)}
	col := make([]float64, n)
	for f := 0; f < nf; f++ {
		for i := range X {
			col[i] = X[i][f]
		}
		sort.Float64s(col)
		uniq := col[:0:0]
		for i, v := range col {
			if i == 0 || v != col[i-1] {
				uniq = append(uniq, v)
			}
		}

		var cuts []float64
		if len(uniq) <= maxBins {
			for i := 1; i < len(uniq); i++ {
				cuts = append(cuts, uniq[i-1]+(uniq[i]-uniq[i-1])/2)
			}
		} else {
			for q := 1; q < maxBins; q++ {
				pos := q * len(uniq) / maxBins
				c := uniq[pos-1] + (uniq[pos]-uniq[pos-1])/2
				if len(cuts) == 0 || c > cuts[len(cuts)-1] {
					cuts = append(cuts, c)
				}
			}
		}
		b.cuts[f] = cuts

		row := make([]uint8, n)
		for i := range X {
			row[i] = uint8(sort.SearchFloat64s(cuts, X[i][f]))
		}
		b.bins[f] = row
	}
	return b
}

type grower struct {
	p     Params
	data  *binned
	grad  []float64
	hess  []float64
	feats []int
	gain  []float64
	histG []float64
	histH []float64
	histN []int
}

// softThreshold applies L1 shrinkage to a gradient sum.
func (g *grower) softThreshold(G float64) float64 {
	switch {
	case G > g.p.RegAlpha:
		return G - g.p.RegAlpha
	case G < -g.p.RegAlpha:
		return G + g.p.RegAlpha
	}
	return 0
}

func (g *grower) score(G, H float64) float64 {
	t := g.softThreshold(G)
	return t * t / (H + g.p.RegLambda)
}

func (g *grower) leafValue(G, H float64) float64 {
	return -g.softThreshold(G) / (H + g.p.RegLambda) * g.p.LearningRate
}

type split struct {
	feature int
	cut     int
	gain    float64
}

func (g *grower) grow(t *Tree, rows []int, depth int) int {
	var G, H float64
	for _, i := range rows {
		G += g.grad[i]
		H += g.hess[i]
	}
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Leaf: true, Value: g.leafValue(G, H)})
	if depth >= g.p.MaxDepth || len(rows) < 2 {
		return id
	}

	best := split{feature: -1}
	parent := g.score(G, H)
	for _, f := range g.feats {
		nb := len(g.data.cuts[f]) + 1
		if nb < 2 {
			continue
		}
		hg, hh, hn := g.histG[:nb], g.histH[:nb], g.histN[:nb]
		clear(hg)
		clear(hh)
		clear(hn)
		col := g.data.bins[f]
		for _, i := range rows {
			b := col[i]
			hg[b] += g.grad[i]
			hh[b] += g.hess[i]
			hn[b]++
		}
		var GL, HL float64
		NL := 0
		for c := 0; c < nb-1; c++ {
			GL += hg[c]
			HL += hh[c]
			NL += hn[c]
			GR, HR := G-GL, H-HL
			if NL == 0 || NL == len(rows) || HL < g.p.MinChildWeight || HR < g.p.MinChildWeight {
				continue
			}
			gain := 0.5*(g.score(GL, HL)+g.score(GR, HR)-parent) - g.p.Gamma
			if gain > best.gain {
				best = split{feature: f, cut: c, gain: gain}
			}
		}
	}
	if best.feature < 0 {
		return id
	}

	col := g.data.bins[best.feature]
	var left, right []int
	for _, i := range rows {
		if int(col[i]) <= best.cut {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	g.gain[best.feature] += best.gain

	l := g.grow(t, left, depth+1)
	r := g.grow(t, right, depth+1)
	t.Nodes[id] = Node{
		Feature:   best.feature,
		Threshold: g.data.cuts[best.feature][best.cut],
		Left:      l,
		Right:     r,
	}
	return id
}

// FitBooster trains a booster on already scaled rows. Positive rows are
// weighted by p.ScalePosWeight. Cancellation is checked between rounds.
func FitBooster(ctx context.Context, X [][]float64, y []int, p Params) (*Booster, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrInsufficientData, len(X), len(y))
	}
	nf := len(X[0])
	if nf == 0 {
		return nil, fmt.Errorf("booster: rows have no features")
	}
	for i, r := range X {
		if len(r) != nf {
			return nil, fmt.Errorf("booster: row %d has %d columns, want %d", i, len(r), nf)
		}
	}

	n := len(X)
	rng := newRand(p.Seed)
	g := &grower{
		p:     p,
		data:  quantise(X, p.MaxBins),
		grad:  make([]float64, n),
		hess:  make([]float64, n),
		gain:  make([]float64, nf),
		histG: make([]float64, p.MaxBins),
		histH: make([]float64, p.MaxBins),
		histN: make([]int, p.MaxBins),
	}
	b := &Booster{NumFeatures: nf, Trees: make([]Tree, 0, p.NEstimators)}

	margin := make([]float64, n)
	weight := make([]float64, n)
	for i, v := range y {
		weight[i] = 1
		if v != 0 {
			weight[i] = p.ScalePosWeight
		}
	}

	nCols := max(1, int(math.Round(p.ColsampleByTree*float64(nf))))
	rows := make([]int, 0, n)
	for round := 0; round < p.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range margin {
			prob := sigmoid(margin[i])
			target := 0.0
			if y[i] != 0 {
				target = 1
			}
			g.grad[i] = weight[i] * (prob - target)
			g.hess[i] = weight[i] * math.Max(prob*(1-prob), 1e-16)
		}

		rows = sampleRows(rows[:0], n, p.Subsample, rng)
		g.feats = sampleColumns(nf, nCols, rng)

		tree := Tree{}
		g.grow(&tree, rows, 0)
		for i := range margin {
			margin[i] += tree.Predict(X[i])
		}
		b.Trees = append(b.Trees, tree)
	}
	b.Gain = g.gain
	return b, nil
}

func sampleRows(dst []int, n int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1 {
		for i := 0; i < n; i++ {
			dst = append(dst, i)
		}
		return dst
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < fraction {
			dst = append(dst, i)
		}
	}
	if len(dst) == 0 {
		dst = append(dst, rng.IntN(n))
	}
	return dst
}

func sampleColumns(nf, k int, rng *rand.Rand) []int {
	if k >= nf {
		cols := make([]int, nf)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	cols := rng.Perm(nf)[:k]
	sort.Ints(cols)
	return cols
}
