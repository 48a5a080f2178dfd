package service

import (
	"math"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

// SkillService implements the two-player Gaussian skill model used for
// matchmaking: each user carries a (mu, sigma) estimate, pairs are rated by
// their predicted draw probability and estimates are updated after every
// finished game.
type SkillService struct {
	beta       float64 // performance variability
	tau        float64 // additive dynamics, keeps sigma from freezing
	drawMargin float64 // performance-space margin treated as a draw
}

// NewSkillService creates the model with the standard parameters for a
// mu0=25, sigma0=25/3 rating scale.
func NewSkillService() *SkillService {
	mu0 := models.DefaultRating().Mu
	return &SkillService{
		beta: mu0 / 6,
		tau:  mu0 / 300,
		// corresponds to roughly 10% of games ending in a draw
		drawMargin: 0.74,
	}
}

// PredictDraw returns the predicted draw probability of a pairing, the
// fairness proxy used for match quality. It is 1 for identical, perfectly
// certain ratings and decays with skill gap and uncertainty.
func (s *SkillService) PredictDraw(a, b models.Rating) float64 {
	c2 := 2*s.beta*s.beta + a.Sigma*a.Sigma + b.Sigma*b.Sigma
	muDiff := a.Mu - b.Mu
	return math.Sqrt(2*s.beta*s.beta/c2) * math.Exp(-muDiff*muDiff/(2*c2))
}

// Rate runs one rating update against the final scores of a finished game
// and returns the new ratings in the same order. The higher score wins;
// equal scores are a draw.
func (s *SkillService) Rate(a, b models.Rating, scoreA, scoreB float64) (models.Rating, models.Rating) {
	// dynamics: inflate uncertainty before the update
	varA := a.Sigma*a.Sigma + s.tau*s.tau
	varB := b.Sigma*b.Sigma + s.tau*s.tau

	c2 := 2*s.beta*s.beta + varA + varB
	c := math.Sqrt(c2)
	eps := s.drawMargin / c

	switch {
	case scoreA > scoreB:
		newA, newB := s.rateWin(a.Mu, varA, b.Mu, varB, c, eps)
		return newA, newB
	case scoreB > scoreA:
		newB, newA := s.rateWin(b.Mu, varB, a.Mu, varA, c, eps)
		return newA, newB
	default:
		return s.rateDraw(a.Mu, varA, b.Mu, varB, c, eps)
	}
}

// rateWin updates a decided game; arguments and results are ordered winner
// first.
func (s *SkillService) rateWin(muW, varW, muL, varL, c, eps float64) (models.Rating, models.Rating) {
	t := (muW - muL) / c
	v := vWin(t, eps)
	w := v * (v + t - eps)

	winner := models.Rating{
		Mu:    muW + varW/c*v,
		Sigma: math.Sqrt(varW * math.Max(1-varW/(c*c)*w, 1e-6)),
	}
	loser := models.Rating{
		Mu:    muL - varL/c*v,
		Sigma: math.Sqrt(varL * math.Max(1-varL/(c*c)*w, 1e-6)),
	}
	return winner, loser
}

func (s *SkillService) rateDraw(muA, varA, muB, varB, c, eps float64) (models.Rating, models.Rating) {
	t := (muA - muB) / c
	v := vDraw(t, eps)
	w := wDraw(t, eps)

	newA := models.Rating{
		Mu:    muA + varA/c*v,
		Sigma: math.Sqrt(varA * math.Max(1-varA/(c*c)*w, 1e-6)),
	}
	newB := models.Rating{
		Mu:    muB + varB/c*vDraw(-t, eps),
		Sigma: math.Sqrt(varB * math.Max(1-varB/(c*c)*w, 1e-6)),
	}
	return newA, newB
}

// vWin is the additive truncated-Gaussian correction for a decided game.
func vWin(t, eps float64) float64 {
	denom := normCDF(t - eps)
	if denom < 1e-12 {
		return eps - t
	}
	return normPDF(t-eps) / denom
}

// vDraw is the additive correction for a drawn game. Zero for equal means.
func vDraw(t, eps float64) float64 {
	denom := normCDF(eps-t) - normCDF(-eps-t)
	if denom < 1e-12 {
		if t < 0 {
			return eps - t
		}
		return -eps - t
	}
	return (normPDF(-eps-t) - normPDF(eps-t)) / denom
}

// wDraw is the multiplicative (variance-shrinking) correction for a draw.
func wDraw(t, eps float64) float64 {
	denom := normCDF(eps-t) - normCDF(-eps-t)
	if denom < 1e-12 {
		return 1
	}
	v := vDraw(t, eps)
	return v*v + ((eps-t)*normPDF(eps-t)+(eps+t)*normPDF(eps+t))/denom
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
