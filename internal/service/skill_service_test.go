package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

func TestPredictDrawEqualDefaults(t *testing.T) {
	s := NewSkillService()
	q := s.PredictDraw(models.DefaultRating(), models.DefaultRating())

	// sqrt(2*beta^2 / (2*beta^2 + 2*sigma0^2)) for mu0=25, sigma0=25/3
	assert.InDelta(t, 0.4472, q, 0.001)
}

func TestPredictDrawIsSymmetric(t *testing.T) {
	s := NewSkillService()
	a := models.Rating{Mu: 30, Sigma: 5}
	b := models.Rating{Mu: 22, Sigma: 7}

	assert.InDelta(t, s.PredictDraw(a, b), s.PredictDraw(b, a), 1e-12)
}

func TestPredictDrawDecreasesWithSkillGap(t *testing.T) {
	s := NewSkillService()
	base := models.Rating{Mu: 25, Sigma: 3}

	prev := s.PredictDraw(base, models.Rating{Mu: 25, Sigma: 3})
	for _, gap := range []float64{2, 5, 10, 20} {
		q := s.PredictDraw(base, models.Rating{Mu: 25 + gap, Sigma: 3})
		assert.Less(t, q, prev, "gap %v should lower quality", gap)
		prev = q
	}
}

func TestRateWinMovesRatingsInOppositeDirections(t *testing.T) {
	s := NewSkillService()
	a := models.DefaultRating()
	b := models.DefaultRating()

	newA, newB := s.Rate(a, b, 3, 6)

	require.Greater(t, newB.Mu, b.Mu, "winner mu must increase")
	require.Less(t, newA.Mu, a.Mu, "loser mu must decrease")
	assert.Less(t, newA.Sigma, a.Sigma)
	assert.Less(t, newB.Sigma, b.Sigma)
}

func TestRateWinIsOrderIndependent(t *testing.T) {
	s := NewSkillService()
	a := models.Rating{Mu: 28, Sigma: 6}
	b := models.Rating{Mu: 24, Sigma: 5}

	winA1, loseB1 := s.Rate(a, b, 6, 2)
	loseB2, winA2 := s.Rate(b, a, 2, 6)

	assert.InDelta(t, winA1.Mu, winA2.Mu, 1e-9)
	assert.InDelta(t, loseB1.Mu, loseB2.Mu, 1e-9)
}

func TestRateDrawWithEqualRatings(t *testing.T) {
	s := NewSkillService()
	a := models.DefaultRating()
	b := models.DefaultRating()

	newA, newB := s.Rate(a, b, 2, 2)

	assert.InDelta(t, a.Mu, newA.Mu, 1e-9)
	assert.InDelta(t, b.Mu, newB.Mu, 1e-9)
	assert.Less(t, newA.Sigma, a.Sigma, "a draw still shrinks uncertainty")
	assert.Less(t, newB.Sigma, b.Sigma)
}

func TestRateDrawPullsRatingsTogether(t *testing.T) {
	s := NewSkillService()
	a := models.Rating{Mu: 30, Sigma: 6}
	b := models.Rating{Mu: 20, Sigma: 6}

	newA, newB := s.Rate(a, b, 1, 1)

	assert.Less(t, newA.Mu, a.Mu, "drawing against a weaker player lowers mu")
	assert.Greater(t, newB.Mu, b.Mu, "drawing against a stronger player raises mu")
}

func TestRateUpsetMovesMoreThanExpectedResult(t *testing.T) {
	s := NewSkillService()
	strong := models.Rating{Mu: 32, Sigma: 4}
	weak := models.Rating{Mu: 18, Sigma: 4}

	_, weakAfterLoss := s.Rate(strong, weak, 6, 0)
	_, weakAfterWin := s.Rate(strong, weak, 0, 6)

	expectedLossDrop := weak.Mu - weakAfterLoss.Mu
	upsetGain := weakAfterWin.Mu - weak.Mu
	assert.Greater(t, upsetGain, expectedLossDrop)
}
