// Package tier classifies a customer into a product tier from profile,
// utterance and engagement features.
//
// The [Analyzer] scores every tier as a weighted sum of feature atoms and
// picks the winner:
//
//  1. Extract features from the customer profile and the latest message:
//     age band, profession category, budget band, urgency, engagement.
//  2. Score each tier: a base weight plus the weight of every present atom,
//     plus an engagement weight scaled by the engagement score.
//  3. Select the arg-max. When the top two scores are within 10% of each
//     other (best/second < 1.10) the higher of the two tiers wins, so a
//     customer on the fence is pitched the stronger offer.
//
// Confidence is the selected tier's share of the total score mass across all
// tiers, so a clear winner reads high and a crowded field reads low. Callers
// re-evaluate on every user message and apply the result through
// [conversation.ConversationState.ApplyTier], which enforces the minimum
// confidence gain.
//
// Weights are configuration; the defaults below favor budget as the
// strongest signal, then profession, then age, with urgency and engagement
// nudging the upper tiers.
package tier

import (
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/lexicon"
)

// tieRatio is the best/second score ratio under which the two top tiers are
// considered a near tie and the higher tier is selected.
const tieRatio = 1.10

// Feature atom keys shared by all weight tables. Age, profession and budget
// atoms are composed per band, e.g. "age:25-34", "profession:executive",
// "budget:high".
const (
	atomBase       = "base"
	atomUrgency    = "urgency"
	atomEngagement = "engagement"
)

func atomAge(band string) string       { return "age:" + band }
func atomProfession(cat string) string { return "profession:" + cat }
func atomBudget(band string) string    { return "budget:" + band }

// defaultWeights is the built-in scoring table. Atoms absent from a tier's
// map contribute zero.
var defaultWeights = map[conversation.Tier]map[string]float64{
	conversation.TierEssential: {
		atomBase:                1.0,
		"age:under-25":          0.5,
		"age:55-plus":           0.2,
		"profession:student":    0.8,
		"profession:home":       0.5,
		"profession:unemployed": 0.9,
		"profession:trades":     0.4,
		"budget:low":            1.2,
		"budget:medium":         0.2,
	},
	conversation.TierPro: {
		atomBase:                  1.0,
		"age:under-25":            0.2,
		"age:25-34":               0.5,
		"age:35-44":               0.3,
		"profession:student":      0.2,
		"profession:home":         0.3,
		"profession:trades":       0.4,
		"profession:professional": 0.7,
		"profession:healthcare":   0.6,
		"profession:education":    0.6,
		"budget:low":              0.3,
		"budget:medium":           1.2,
		"budget:high":             0.3,
		atomUrgency:               0.1,
		atomEngagement:            0.3,
	},
	conversation.TierElite: {
		atomBase:                  0.7,
		"age:25-34":               0.2,
		"age:35-44":               0.5,
		"age:45-54":               0.4,
		"age:55-plus":             0.3,
		"profession:professional": 0.3,
		"profession:healthcare":   0.4,
		"profession:education":    0.3,
		"profession:executive":    0.8,
		"profession:entrepreneur": 0.6,
		"budget:medium":           0.4,
		"budget:high":             1.2,
		atomUrgency:               0.2,
		atomEngagement:            0.5,
	},
	conversation.TierPremium: {
		atomBase:                  0.6,
		"age:35-44":               0.2,
		"age:45-54":               0.3,
		"age:55-plus":             0.2,
		"profession:executive":    0.5,
		"profession:entrepreneur": 0.7,
		"budget:high":             0.8,
		atomUrgency:               0.5,
		atomEngagement:            0.9,
	},
}

// professionCategories lists the recognized profession categories in the
// order used to break equal-score ties during classification.
var professionCategories = []string{
	"student", "professional", "healthcare", "education",
	"executive", "entrepreneur", "trades", "home", "unemployed",
}

// professionVocabularies maps each category to the job titles matched against
// the free-form profession field. Spanish first, with common English
// equivalents.
var professionVocabularies = map[string][]string{
	"student": {
		"estudiante", "universitario", "universitaria", "pasante",
		"becario", "becaria", "student",
	},
	"professional": {
		"ingeniero", "ingeniera", "abogado", "abogada", "contador",
		"contadora", "arquitecto", "arquitecta", "analista", "programador",
		"programadora", "disenador", "disenadora", "administrativo",
		"administrativa", "oficinista", "asistente", "secretaria",
		"secretario", "engineer", "lawyer", "accountant", "developer",
	},
	"healthcare": {
		"enfermera", "enfermero", "doctora", "doctor", "medica", "medico",
		"dentista", "psicologa", "psicologo", "nurse", "therapist",
	},
	"education": {
		"maestra", "maestro", "profesora", "profesor", "docente",
		"educadora", "educador", "teacher",
	},
	"executive": {
		"gerente", "directora", "director", "ejecutiva", "ejecutivo",
		"supervisora", "supervisor", "jefa", "jefe", "manager",
	},
	"entrepreneur": {
		"emprendedora", "emprendedor", "empresaria", "empresario",
		"negocio propio", "mi propio negocio", "duena de negocio",
		"dueno de negocio", "freelancer", "independiente", "business owner",
	},
	"trades": {
		"obrero", "obrera", "mecanico", "mecanica", "chofer", "operador",
		"operadora", "mesera", "mesero", "cocinera", "cocinero", "vendedora",
		"vendedor", "albanil", "carpintero", "carpintera", "estilista",
		"driver", "waitress", "waiter",
	},
	"home": {
		"ama de casa", "amo de casa", "hogar", "homemaker", "stay at home",
	},
	"unemployed": {
		"desempleada", "desempleado", "sin trabajo", "sin empleo",
		"buscando trabajo", "unemployed",
	},
}

// Budget band vocabularies matched against the free-form budget field.
var (
	budgetHighWords = []string{
		"alto", "alta", "amplio", "amplia", "holgado", "holgada",
		"sin problema", "high",
	}
	budgetLowWords = []string{
		"bajo", "baja", "limitado", "limitada", "ajustado", "ajustada",
		"apretado", "apretada", "poco", "low", "tight",
	}
	budgetMediumWords = []string{
		"medio", "media", "regular", "moderado", "moderada", "medium",
	}
)

// Features is the extracted input to tier scoring. Empty string fields mean
// the feature is unknown and contribute nothing to any tier.
type Features struct {
	AgeBand    string  // "under-25", "25-34", "35-44", "45-54", "55-plus" or ""
	Profession string  // one of professionCategories or ""
	Budget     string  // "low", "medium", "high" or ""
	Urgent     bool    // urgency vocabulary detected in the latest message
	Engagement float64 // session engagement score in [0,1]
}

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithWeights replaces the default scoring table. The map is copied; tiers
// absent from it score zero.
func WithWeights(w map[conversation.Tier]map[string]float64) Option {
	return func(a *Analyzer) {
		cp := make(map[conversation.Tier]map[string]float64, len(w))
		for t, atoms := range w {
			inner := make(map[string]float64, len(atoms))
			for k, v := range atoms {
				inner[k] = v
			}
			cp[t] = inner
		}
		a.weights = cp
	}
}

// WithMatcher replaces the default lexicon matcher used for profession,
// budget and urgency detection.
func WithMatcher(m *lexicon.Matcher) Option {
	return func(a *Analyzer) {
		a.matcher = m
	}
}

// Analyzer classifies customers into tiers. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	matcher *lexicon.Matcher
	weights map[conversation.Tier]map[string]float64
	urgency []string
}

// New creates an Analyzer with the given options applied over the defaults.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		matcher: lexicon.New(),
		weights: defaultWeights,
		urgency: emotion.Vocabulary(emotion.SignalUrgency),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze extracts features from the profile, the latest user message and the
// engagement score, scores every tier and returns the decision stamped with
// now. The caller applies it through ApplyTier, which decides whether the
// stored tier actually changes.
func (a *Analyzer) Analyze(profile conversation.CustomerProfile, currentText string, engagement float64, now time.Time) conversation.TierDecision {
	f := a.Extract(profile, currentText, engagement)
	scores := a.Scores(f)

	var total float64
	for _, s := range scores {
		total += s
	}

	best, second := bestTwo(scores)
	if total <= 0 || scores[best] <= 0 {
		// Only reachable with a custom weight table that zeroes everything.
		return conversation.TierDecision{Detected: conversation.TierEssential, LastUpdated: now}
	}

	detected := best
	if scores[second] > 0 && scores[best]/scores[second] < tieRatio && second.Rank() > best.Rank() {
		detected = second
	}

	return conversation.TierDecision{
		Detected:    detected,
		Confidence:  scores[detected] / total,
		LastUpdated: now,
	}
}

// Extract derives the scoring features. Profession and budget are matched
// through the lexicon matcher, so typos and diacritics are tolerated; urgency
// uses the emotion urgency vocabulary.
func (a *Analyzer) Extract(profile conversation.CustomerProfile, currentText string, engagement float64) Features {
	return Features{
		AgeBand:    ageBand(profile.Age),
		Profession: a.professionCategory(profile.Profession),
		Budget:     a.budgetBand(profile.Budget),
		Urgent:     a.matcher.ContainsAny(currentText, a.urgency),
		Engagement: clamp01(engagement),
	}
}

// Scores returns the weighted sum per tier for the given features.
func (a *Analyzer) Scores(f Features) map[conversation.Tier]float64 {
	out := make(map[conversation.Tier]float64, len(conversation.Tiers))
	for _, t := range conversation.Tiers {
		atoms := a.weights[t]
		s := atoms[atomBase]
		if f.AgeBand != "" {
			s += atoms[atomAge(f.AgeBand)]
		}
		if f.Profession != "" {
			s += atoms[atomProfession(f.Profession)]
		}
		if f.Budget != "" {
			s += atoms[atomBudget(f.Budget)]
		}
		if f.Urgent {
			s += atoms[atomUrgency]
		}
		s += atoms[atomEngagement] * f.Engagement
		out[t] = s
	}
	return out
}

// bestTwo returns the top two tiers by score. Equal scores keep the lower
// tier as best and the higher as second, which the near-tie rule then
// resolves upward deterministically.
func bestTwo(scores map[conversation.Tier]float64) (best, second conversation.Tier) {
	for _, t := range conversation.Tiers {
		s := scores[t]
		switch {
		case best == "" || s > scores[best]:
			second = best
			best = t
		case second == "" || s > scores[second]:
			second = t
		}
	}
	return best, second
}

func ageBand(age int) string {
	switch {
	case age <= 0:
		return ""
	case age < 25:
		return "under-25"
	case age < 35:
		return "25-34"
	case age < 45:
		return "35-44"
	case age < 55:
		return "45-54"
	default:
		return "55-plus"
	}
}

// professionCategory maps the free-form profession field to a category by
// best lexicon match across all category vocabularies. Unknown or
// unmatchable professions return "".
func (a *Analyzer) professionCategory(profession string) string {
	if strings.TrimSpace(profession) == "" {
		return ""
	}
	var (
		best      string
		bestScore float64
	)
	for _, cat := range professionCategories {
		if hit, ok := a.matcher.BestMatch(profession, professionVocabularies[cat]); ok && hit.Score > bestScore {
			best, bestScore = cat, hit.Score
		}
	}
	return best
}

// budgetBand normalizes the free-form budget field. Mixed descriptions like
// "medio alto" resolve in check order: high, then low, then medium.
func (a *Analyzer) budgetBand(budget string) string {
	if strings.TrimSpace(budget) == "" {
		return ""
	}
	switch {
	case a.matcher.ContainsAny(budget, budgetHighWords):
		return "high"
	case a.matcher.ContainsAny(budget, budgetLowWords):
		return "low"
	case a.matcher.ContainsAny(budget, budgetMediumWords):
		return "medium"
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
