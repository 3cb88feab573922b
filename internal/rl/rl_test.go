package rl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlfit/internal/model"
)

func randomBatch(rng *rand.Rand, n int) model.TrialBatch {
	b := model.TrialBatch{
		Rewarded1: make([]float64, n),
		Mag1:      make([]float64, n),
		Mag2:      make([]float64, n),
		Choice1:   make([]float64, n),
	}
	for t := 0; t < n; t++ {
		if rng.Float64() < 0.7 {
			b.Rewarded1[t] = 1
		}
		if rng.Float64() < 0.5 {
			b.Choice1[t] = 1
		}
		b.Mag1[t] = float64(rng.Intn(100) + 1)
		b.Mag2[t] = float64(rng.Intn(100) + 1)
	}
	return b
}

func TestBeliefsLagByOneTrial(t *testing.T) {
	probs := Beliefs([]float64{1, 0, 1}, 0.5, 0.5)
	require.Len(t, probs, 3)
	assert.Equal(t, 0.5, probs[0])
	assert.InDelta(t, 0.75, probs[1], 1e-12)
	assert.InDelta(t, 0.375, probs[2], 1e-12)
}

func TestBeliefsStayWithinUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		b := randomBatch(rng, 1+rng.Intn(60))
		alpha := rng.Float64()
		if i%10 == 0 {
			alpha = float64(i % 20 / 10)
		}
		for tr, p := range Beliefs(b.Rewarded1, alpha, rng.Float64()) {
			require.GreaterOrEqual(t, p, 0.0, "trial %d alpha %v", tr, alpha)
			require.LessOrEqual(t, p, 1.0, "trial %d alpha %v", tr, alpha)
		}
	}
}

func TestLossIsSymmetricInBetaAndChoiceEncoding(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b := randomBatch(rng, 40)
	flipped := b.Clone()
	for i, c := range flipped.Choice1 {
		flipped.Choice1[i] = 1 - c
	}
	opts := DefaultOptions()
	for _, beta := range []float64{0, 0.05, 0.3, 1} {
		assert.InDelta(t, Loss(b, 0.4, beta, opts), Loss(flipped, 0.4, -beta, opts), 1e-12)
	}
}

func TestLossNonNegativeAndZeroBetaIsLog2(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := randomBatch(rng, 25)
	opts := DefaultOptions()
	assert.InDelta(t, math.Ln2, Loss(b, 0.3, 0, opts), 1e-12)
	assert.GreaterOrEqual(t, Loss(b, 0.9, 1, opts), 0.0)
}

func TestLossGradMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	b := randomBatch(rng, 50)
	for _, name := range []string{UtilityMultiplicative, UtilityAdditive, UtilityProbability} {
		u, err := GetUtility(name)
		require.NoError(t, err)
		opts := Options{StartingProb: 0.5, Utility: u, Omega: 0.3}
		alpha, beta := 0.35, 0.07
		if name == UtilityProbability {
			beta = 4
		}

		loss, dAlpha, dBeta := LossGrad(b, alpha, beta, opts)
		assert.InDelta(t, Loss(b, alpha, beta, opts), loss, 1e-12, name)

		const h = 1e-6
		fdAlpha := (Loss(b, alpha+h, beta, opts) - Loss(b, alpha-h, beta, opts)) / (2 * h)
		fdBeta := (Loss(b, alpha, beta+h, opts) - Loss(b, alpha, beta-h, opts)) / (2 * h)
		assert.InDelta(t, fdAlpha, dAlpha, 1e-5, "%s dAlpha", name)
		assert.InDelta(t, fdBeta, dBeta, 1e-5, "%s dBeta", name)
	}
}

func TestBatchLossKeepsSubjectsApart(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	batches := []model.TrialBatch{randomBatch(rng, 10), randomBatch(rng, 30), randomBatch(rng, 20)}
	alphas := []float64{0.1, 0.5, 0.9}
	betas := []float64{0.02, 0.2, 0.5}
	opts := DefaultOptions()

	got, err := BatchLoss(batches, alphas, betas, opts)
	require.NoError(t, err)
	for i := range batches {
		assert.Equal(t, Loss(batches[i], alphas[i], betas[i], opts), got[i])
	}

	_, err = BatchLoss(batches, alphas[:2], betas, opts)
	require.Error(t, err)

	bad := append([]model.TrialBatch(nil), batches...)
	bad[1] = model.TrialBatch{}
	_, err = BatchLoss(bad, alphas, betas, opts)
	require.ErrorIs(t, err, model.ErrEmptyBatch)
}

func TestSimulatorMatchesLossModel(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	b := randomBatch(rng, 30)
	sim := NewSimulator(DefaultOptions())

	probOpt1, choiceProb1, err := sim.Simulate(b.Rewarded1, b.Mag1, b.Mag2, 0.3, 0.1)
	require.NoError(t, err)
	assert.Equal(t, Beliefs(b.Rewarded1, 0.3, 0.5), probOpt1)

	// The loss at the simulated parameters is the cross-entropy against the
	// simulated probabilities.
	want := 0.0
	for tr, p := range choiceProb1 {
		y := b.Choice1[tr]
		want += -(y*math.Log(p) + (1-y)*math.Log(1-p))
	}
	assert.InDelta(t, want/30, Loss(b, 0.3, 0.1, DefaultOptions()), 1e-9)

	_, _, err = sim.Simulate(b.Rewarded1, b.Mag1[:3], b.Mag2, 0.3, 0.1)
	require.Error(t, err)
}

func TestBinarizeComparesAgainstDraws(t *testing.T) {
	draws := []float64{0.5, 0.5, 0.9}
	i := 0
	next := func() float64 { v := draws[i]; i++; return v }
	assert.Equal(t, []float64{1, 0, 0}, Binarize([]float64{0.6, 0.5, 0.2}, next))
}

func TestLandscapeNormalisesAndPeaks(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	b := randomBatch(rng, 40)
	alphas, err := Arange(0.1, 1, 0.2)
	require.NoError(t, err)
	betas := []float64{0.01, 0.05, 0.1}

	res, err := Landscape(b, alphas, betas, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.LogLikelihood, len(alphas))

	sum := 0.0
	for a := range res.Likelihood {
		for bi := range res.Likelihood[a] {
			sum += res.Likelihood[a][bi]
			assert.InDelta(t, -Loss(b, alphas[a], betas[bi], DefaultOptions())*40, res.LogLikelihood[a][bi], 1e-9)
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	_, _, peak := res.Peak()
	for a := range res.LogLikelihood {
		for _, v := range res.LogLikelihood[a] {
			assert.LessOrEqual(t, v, peak)
		}
	}

	_, err = Landscape(b, nil, betas, DefaultOptions())
	require.Error(t, err)
}

func TestArange(t *testing.T) {
	got, err := Arange(0, 1, 0.25)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, got)

	empty, err := Arange(1, 0, 0.1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Arange(0, 1, 0)
	require.Error(t, err)
}
