// Package empathy composes the emotionally calibrated half of every agent
// reply: it selects a template fragment from a closed catalogue, augments the
// LLM prompt with validation directives, post-processes completions, and
// scores the final text against a fixed rubric.
//
// The catalogue (templates, validation phrases, filler blacklist, banned
// words, canned fallbacks) loads from YAML with built-in Spanish defaults and
// sits behind an atomic pointer: [Composer.Reload] swaps it wholesale, so
// in-flight compositions always see one consistent version.
package empathy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cierra-ai/cierra/internal/bandit"
	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/lexicon"
)

// Rubric weights for [Composer.Score].
const (
	validationPointsEach = 1.5
	validationPointsMax  = 4.0
	pronounRatioFactor   = 15.0
	pronounPointsMax     = 3.0
	questionPoints       = 1.5
	hopePoints           = 1.5
	scoreMax             = 10.0
)

// highIntensity is the threshold above which directives ask for a calmer
// register.
const highIntensity = 0.7

// categoryExperiments maps each template category to the experiment whose
// assigned variant drives template selection.
var categoryExperiments = map[string]string{
	CategoryGreeting:       bandit.ExperimentGreetingStyle,
	CategoryEmpathy:        bandit.ExperimentEmpathyLevel,
	CategoryPriceObjection: bandit.ExperimentPriceObjection,
	CategoryClosing:        bandit.ExperimentClosing,
}

// subcategoryOrder is the detection priority for price sub-categories; the
// first vocabulary with a hit wins, sticker shock is the default.
var subcategoryOrder = []string{
	SubSpouseApproval,
	SubComparisonShopping,
	SubTimingIssue,
	SubFinancialFear,
	SubBudgetConstraint,
	SubValueQuestioning,
	SubStickerShock,
}

var subcategoryVocabularies = map[string][]string{
	SubSpouseApproval: {
		"mi esposo", "mi esposa", "mi pareja", "mi marido", "mi mujer",
		"consultarlo", "preguntarle", "lo platico en casa", "decidimos juntos",
		"my husband", "my wife",
	},
	SubComparisonShopping: {
		"mas barato", "mas economico", "otra escuela", "otro curso", "otras opciones",
		"la competencia", "en otro lado", "estoy comparando", "vi uno en",
		"cheaper", "other options",
	},
	SubTimingIssue: {
		"ahorita no puedo", "el proximo mes", "la proxima quincena", "cuando cobre",
		"despues de la quincena", "en unos meses", "mas adelante", "a fin de mes",
		"not this month", "next month",
	},
	SubFinancialFear: {
		"miedo", "riesgo", "y si no funciona", "no quiero perder", "perder mi dinero",
		"me asusta pagar", "invertir y que no",
		"afraid to pay", "lose my money",
	},
	SubBudgetConstraint: {
		"no me alcanza", "no puedo pagar", "no tengo dinero", "presupuesto",
		"ando corta", "ando corto", "estoy apretada", "estoy apretado",
		"can't afford", "tight budget",
	},
	SubValueQuestioning: {
		"vale la pena", "que incluye", "por que cuesta", "que me llevo",
		"lo justifica", "que obtengo",
		"worth it", "what do i get",
	},
	SubStickerShock: {
		"muy caro", "muy cara", "carisimo", "que caro", "tan caro", "cuesta mucho",
		"precio muy alto", "demasiado caro",
		"too expensive", "so expensive",
	},
}

// ComposeInput is the per-message context template selection works from.
type ComposeInput struct {
	Phase conversation.Phase

	// FirstExchange marks the very first reply of the session, which uses
	// greeting templates.
	FirstExchange bool

	Emotion  conversation.EmotionSnapshot
	Variants map[string]string

	// Objections are the predicted objection tags for this message.
	Objections []string

	UserText string
	Profile  conversation.CustomerProfile
	Now      time.Time
}

// Composition is the fragment and prompt guidance produced for one reply.
type Composition struct {
	Category   string
	TemplateID string
	Fragment   string
	Directives []string
}

// ProcessInput carries one LLM completion through post-processing.
type ProcessInput struct {
	Completion   string
	Category     string
	Phase        conversation.Phase
	CustomerName string

	// PreviousAgent holds up to the last two agent texts, newest first.
	PreviousAgent []string
}

// ProcessResult is the post-processed agent text, or a rejection the caller
// must replace with fallback material.
type ProcessResult struct {
	Text         string
	Rejected     bool
	RejectReason string
}

// Option configures a [Composer].
type Option func(*Composer)

// WithCatalogue replaces the default built-in catalogue. The catalogue must
// already be validated.
func WithCatalogue(cat *Catalogue) Option {
	return func(c *Composer) {
		c.catalogue.Store(cat)
	}
}

// WithMatcher replaces the lexicon matcher used for all phrase checks.
func WithMatcher(m *lexicon.Matcher) Option {
	return func(c *Composer) {
		c.matcher = m
	}
}

// WithCache enables rendered-fragment caching in the empathy_fragment
// namespace.
func WithCache(store cache.Cache) Option {
	return func(c *Composer) {
		c.cache = store
	}
}

// Composer selects template fragments and shapes final agent text. Safe for
// concurrent use; the catalogue swaps atomically on reload.
type Composer struct {
	catalogue atomic.Pointer[Catalogue]
	matcher   *lexicon.Matcher
	cache     cache.Cache
	hope      []string
}

// New returns a Composer over the built-in Spanish catalogue unless
// [WithCatalogue] overrides it.
func New(opts ...Option) *Composer {
	c := &Composer{
		matcher: lexicon.New(),
		hope:    emotion.Vocabulary(emotion.SignalHope),
	}
	c.catalogue.Store(DefaultCatalogue())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reload validates and atomically swaps in a new catalogue.
func (c *Composer) Reload(cat *Catalogue) error {
	if err := ValidateCatalogue(cat); err != nil {
		return err
	}
	c.catalogue.Store(cat)
	return nil
}

// Catalogue returns the currently active catalogue.
func (c *Composer) Catalogue() *Catalogue {
	return c.catalogue.Load()
}

// Compose picks the template fragment and prompt directives for one reply.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) Composition {
	cat := c.catalogue.Load()
	category := c.category(in)

	sel := Selection{
		Variant: in.Variants[categoryExperiments[category]],
		Emotion: in.Emotion.PrimaryEmotion,
	}
	switch category {
	case CategoryGreeting:
		sel.TimeOfDay = TimeOfDay(in.Now)
	case CategoryPriceObjection:
		sel.Subcategory = c.PriceSubcategory(in.UserText)
	}

	comp := Composition{
		Category:   category,
		Directives: c.directives(in),
	}
	if t, ok := cat.Select(category, sel); ok {
		comp.TemplateID = t.ID
		comp.Fragment = c.renderCached(ctx, t, in.Profile)
	}
	return comp
}

// category routes the reply to greeting, price objection, closing or plain
// empathy templates.
func (c *Composer) category(in ComposeInput) string {
	switch {
	case in.FirstExchange && in.Phase == conversation.PhaseDiscovery:
		return CategoryGreeting
	case in.Phase == conversation.PhaseObjection && c.priceRelated(in):
		return CategoryPriceObjection
	case in.Phase == conversation.PhaseClosing:
		return CategoryClosing
	default:
		return CategoryEmpathy
	}
}

func (c *Composer) priceRelated(in ComposeInput) bool {
	for _, tag := range in.Objections {
		if tag == "price_too_high" {
			return true
		}
	}
	return c.matcher.ContainsAny(in.UserText, emotion.Vocabulary(emotion.SignalPriceConcern))
}

// directives builds the explicit validation instructions injected into the
// LLM prompt.
func (c *Composer) directives(in ComposeInput) []string {
	var out []string
	if in.Emotion.PrimaryEmotion != "" && in.Emotion.PrimaryEmotion != emotion.EmotionNeutral {
		out = append(out, fmt.Sprintf("Validate the customer's feeling of being %s before advancing.", in.Emotion.PrimaryEmotion))
	}
	if in.Emotion.Intensity >= highIntensity {
		out = append(out, "Emotional intensity is high: keep sentences short and the tone calm.")
	}
	for _, sig := range in.Emotion.Signals {
		switch sig {
		case emotion.SignalReadyToBuy:
			out = append(out, "The customer shows buying readiness: acknowledge it and guide to the concrete next step.")
		case emotion.SignalBurnoutRisk:
			out = append(out, "Burnout risk detected: lower the pressure and avoid stacking offers.")
		}
	}
	switch in.Variants[bandit.ExperimentEmpathyLevel] {
	case "amplified":
		out = append(out, "Mirror the customer's own wording when validating their emotion.")
	case "restrained":
		out = append(out, "Keep emotional validation to a single short clause.")
	}
	return out
}

// PriceSubcategory classifies a price objection by its wording.
func (c *Composer) PriceSubcategory(text string) string {
	for _, sub := range subcategoryOrder {
		if c.matcher.ContainsAny(text, subcategoryVocabularies[sub]) {
			return sub
		}
	}
	return SubStickerShock
}

// TimeOfDay buckets an instant into morning, afternoon or evening.
func TimeOfDay(now time.Time) string {
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 19:
		return "afternoon"
	default:
		return "evening"
	}
}

// renderCached renders a template for a profile, reusing the fragment cache
// when configured. Cache failures fall through to a fresh render.
func (c *Composer) renderCached(ctx context.Context, t Template, profile conversation.CustomerProfile) string {
	if c.cache == nil {
		return RenderTemplate(t.Text, profile.Name)
	}
	key := cache.Key(t.ID, conversation.FingerprintInputs(lexicon.Normalize(profile.Name)))
	if val, ok, err := c.cache.Get(ctx, cache.NSEmpathyFragment, key); err == nil && ok {
		return string(val)
	}
	rendered := RenderTemplate(t.Text, profile.Name)
	_ = c.cache.Set(ctx, cache.NSEmpathyFragment, key, []byte(rendered))
	return rendered
}

// RenderTemplate substitutes the customer name into a template. With no name
// the placeholder and its leading punctuation disappear.
func RenderTemplate(text, name string) string {
	if name != "" {
		return strings.ReplaceAll(text, "{name}", name)
	}
	text = strings.ReplaceAll(text, ", {name}", "")
	text = strings.ReplaceAll(text, " {name}", "")
	return strings.ReplaceAll(text, "{name}", "")
}

// PostProcess enforces the reply rules on an LLM completion: no filler phrase
// repeated from the recent agent turns, no banned words for the category, the
// customer's name at most once, and a forward-moving question outside the
// closing phase.
func (c *Composer) PostProcess(in ProcessInput) ProcessResult {
	cat := c.catalogue.Load()
	text := strings.TrimSpace(in.Completion)
	if text == "" {
		return ProcessResult{Rejected: true, RejectReason: "empty completion"}
	}

	for _, filler := range cat.FillerPhrases {
		if !c.matcher.ContainsAny(text, []string{filler}) {
			continue
		}
		for _, prev := range in.PreviousAgent {
			if c.matcher.ContainsAny(prev, []string{filler}) {
				return ProcessResult{
					Rejected:     true,
					RejectReason: fmt.Sprintf("filler %q repeated from a recent reply", filler),
				}
			}
		}
	}

	for word, repl := range cat.BannedWords[in.Category] {
		text = replaceWordFold(text, word, repl)
	}
	text = limitNameUses(text, in.CustomerName)

	if in.Phase != conversation.PhaseClosing && !strings.Contains(text, "?") {
		if q := cat.Question(string(in.Phase)); q != "" {
			text = text + " " + q
		}
	}
	return ProcessResult{Text: tidySpacing(text)}
}

// Score rates agent text on the empathy rubric: validation phrases (1.5 each,
// capped at 4), personal-pronoun ratio (x15, capped at 3), and hope plus a
// forward question (1.5 each).
func (c *Composer) Score(text string) float64 {
	cat := c.catalogue.Load()
	score := math.Min(float64(c.distinctHits(text, cat.ValidationPhrases))*validationPointsEach, validationPointsMax)

	tokens := lexicon.Tokenize(text)
	if len(tokens) > 0 {
		pronouns := 0
		for _, tok := range tokens {
			for _, p := range cat.Pronouns {
				if tok == lexicon.Normalize(p) {
					pronouns++
					break
				}
			}
		}
		ratio := float64(pronouns) / float64(len(tokens))
		score += math.Min(ratio*pronounRatioFactor, pronounPointsMax)
	}

	if strings.Contains(text, "?") {
		score += questionPoints
	}
	if c.matcher.ContainsAny(text, c.hope) {
		score += hopePoints
	}
	return math.Min(score, scoreMax)
}

// Canned returns the degraded-path reply for a bucket and phase.
func (c *Composer) Canned(bucket string, phase conversation.Phase) string {
	return c.catalogue.Load().CannedReply(bucket, string(phase))
}

// distinctHits counts distinct matched fragments so near-duplicate phrases
// score once.
func (c *Composer) distinctHits(text string, vocab []string) int {
	hits := c.matcher.FindAll(text, vocab)
	if len(hits) < 2 {
		return len(hits)
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.Text] = struct{}{}
	}
	return len(seen)
}

// replaceWordFold replaces standalone occurrences of word, matching
// case-insensitively on letter boundaries.
func replaceWordFold(text, word, repl string) string {
	lower := strings.ToLower(text)
	target := strings.ToLower(word)
	if len(lower) != len(text) || target == "" {
		return text
	}

	var b strings.Builder
	from := 0
	for {
		idx := strings.Index(lower[from:], target)
		if idx < 0 {
			b.WriteString(text[from:])
			return b.String()
		}
		start := from + idx
		end := start + len(target)
		if letterBefore(text, start) || letterAfter(text, end) {
			b.WriteString(text[from:end])
			from = end
			continue
		}
		b.WriteString(text[from:start])
		b.WriteString(repl)
		from = end
	}
}

// limitNameUses keeps the first occurrence of the customer's name and strips
// the rest along with a preceding comma.
func limitNameUses(text, name string) string {
	if name == "" {
		return text
	}
	lower := strings.ToLower(text)
	target := strings.ToLower(name)
	if len(lower) != len(text) {
		return text
	}

	var b strings.Builder
	from, seen := 0, false
	for {
		idx := strings.Index(lower[from:], target)
		if idx < 0 {
			b.WriteString(text[from:])
			return b.String()
		}
		start := from + idx
		end := start + len(target)
		if letterBefore(text, start) || letterAfter(text, end) {
			b.WriteString(text[from:end])
			from = end
			continue
		}
		if !seen {
			seen = true
			b.WriteString(text[from:end])
			from = end
			continue
		}
		segment := text[from:start]
		segment = strings.TrimSuffix(segment, ", ")
		b.WriteString(segment)
		from = end
	}
}

func letterBefore(text string, idx int) bool {
	if idx <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return unicode.IsLetter(r)
}

func letterAfter(text string, idx int) bool {
	if idx >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return unicode.IsLetter(r)
}

// tidySpacing collapses doubled spaces and space-before-punctuation artifacts
// left by removals.
func tidySpacing(text string) string {
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	text = strings.ReplaceAll(text, " ,", ",")
	text = strings.ReplaceAll(text, " .", ".")
	return strings.TrimSpace(text)
}
