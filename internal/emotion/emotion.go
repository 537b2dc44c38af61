// Package emotion derives the customer's emotional profile from the running
// transcript.
//
// The [Analyzer] scores the latest user message plus a sliding window of
// previous ones against per-signal phrase vocabularies (see vocabulary.go),
// using the typo-tolerant lexicon matcher. Hits in the current message count
// full weight, hits in the window half weight. The top-scoring base signal
// becomes the primary emotion; intensity reflects hit volume boosted by
// exclamation marks, shouted (all-caps) tokens and repeated punctuation;
// confidence is the margin of the winning signal over the runner-up,
// normalized as top1/(top1+top2).
//
// Second-order signals are derived from base co-occurrence: burnout_risk
// (fatigue and overwhelm) and ready_to_buy (commitment with urgency or
// interest).
//
// Analysis is deterministic for a given input and safe for concurrent use;
// the Analyzer is read-only after construction.
package emotion

import (
	"strings"
	"time"
	"unicode"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/lexicon"
)

const (
	// defaultWindowSize is how many previous user messages contribute.
	defaultWindowSize = 3

	currentWeight = 1.0
	windowWeight  = 0.5

	// Intensity shaping.
	intensityPerHit  = 0.25
	exclamationBoost = 0.15
	capsBoost        = 0.10
	repeatPunctBoost = 0.10

	// Neutral snapshot values when no signal fires.
	neutralIntensity  = 0.2
	neutralConfidence = 0.35
)

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithWindowSize sets how many previous user messages are scored at half
// weight. Default: 3.
func WithWindowSize(n int) Option {
	return func(a *Analyzer) {
		if n >= 0 {
			a.window = n
		}
	}
}

// WithMatcher replaces the default lexicon matcher.
func WithMatcher(m *lexicon.Matcher) Option {
	return func(a *Analyzer) {
		a.matcher = m
	}
}

// WithVocabulary replaces the phrase list for a signal. Unknown signal names
// extend the vocabulary: the new signal is scored after the built-in ones and
// its own name doubles as the emotion label.
func WithVocabulary(signal string, phrases ...string) Option {
	return func(a *Analyzer) {
		if _, known := a.vocab[signal]; !known {
			a.signals = append(a.signals, signal)
		}
		a.vocab[signal] = append([]string(nil), phrases...)
	}
}

// Analyzer scores customer text against the emotional signal vocabularies.
// All methods are safe for concurrent use; the Analyzer is read-only after
// construction.
type Analyzer struct {
	matcher *lexicon.Matcher
	vocab   map[string][]string
	signals []string
	window  int
}

// New returns an [Analyzer] with the default Spanish/English vocabularies
// and the supplied options applied.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		matcher: lexicon.New(),
		vocab:   make(map[string][]string, len(defaultVocabularies)),
		signals: append([]string(nil), baseSignals...),
		window:  defaultWindowSize,
	}
	for sig, phrases := range defaultVocabularies {
		a.vocab[sig] = phrases
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze produces the emotional snapshot for the current user message.
// previous holds earlier user messages in chronological order; only the most
// recent window-size entries are scored.
func (a *Analyzer) Analyze(current string, previous []string, now time.Time) conversation.EmotionSnapshot {
	if len(previous) > a.window {
		previous = previous[len(previous)-a.window:]
	}

	scores := make(map[string]float64, len(a.signals))
	for _, sig := range a.signals {
		vocab := a.vocab[sig]
		if len(vocab) == 0 {
			continue
		}
		s := currentWeight * float64(distinctHits(a.matcher, current, vocab))
		for _, prev := range previous {
			s += windowWeight * float64(distinctHits(a.matcher, prev, vocab))
		}
		if s > 0 {
			scores[sig] = s
		}
	}

	if len(scores) == 0 {
		return conversation.EmotionSnapshot{
			PrimaryEmotion: EmotionNeutral,
			Intensity:      clamp01(neutralIntensity + punctuationBoost(current)),
			Confidence:     neutralConfidence,
			Timestamp:      now,
		}
	}

	signals := make([]string, 0, len(scores)+2)
	for _, sig := range a.signals {
		if scores[sig] > 0 {
			signals = append(signals, sig)
		}
	}
	if scores[SignalFatigue] > 0 && scores[SignalOverwhelm] > 0 {
		signals = append(signals, SignalBurnoutRisk)
	}
	if scores[SignalCommitment] > 0 && (scores[SignalUrgency] > 0 || scores[SignalInterest] > 0) {
		signals = append(signals, SignalReadyToBuy)
	}

	// Top-1 and top-2 in canonical signal order, so ties resolve to the
	// earlier signal deterministically.
	var top1, top2 float64
	topSig := ""
	for _, sig := range a.signals {
		s := scores[sig]
		if s > top1 {
			top1, top2 = s, top1
			topSig = sig
		} else if s > top2 {
			top2 = s
		}
	}

	label, ok := signalEmotions[topSig]
	if !ok {
		label = topSig
	}

	return conversation.EmotionSnapshot{
		PrimaryEmotion: label,
		Intensity:      clamp01(intensityPerHit*top1 + punctuationBoost(current)),
		Confidence:     top1 / (top1 + top2),
		Signals:        signals,
		Timestamp:      now,
	}
}

// distinctHits counts distinct matched fragments, so near-duplicate
// vocabulary entries (gendered pairs like cansado/cansada) score once.
func distinctHits(m *lexicon.Matcher, text string, vocab []string) int {
	hits := m.FindAll(text, vocab)
	if len(hits) < 2 {
		return len(hits)
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.Text] = struct{}{}
	}
	return len(seen)
}

// punctuationBoost sums the intensity boosts carried by the raw message text.
func punctuationBoost(text string) float64 {
	boost := 0.0
	if strings.ContainsAny(text, "!¡") {
		boost += exclamationBoost
	}
	if hasShoutToken(text) {
		boost += capsBoost
	}
	if hasRepeatedPunct(text) {
		boost += repeatPunctBoost
	}
	return boost
}

// hasShoutToken reports whether text contains an all-caps token of three or
// more letters.
func hasShoutToken(text string) bool {
	for _, tok := range strings.Fields(text) {
		letters := 0
		shouted := true
		for _, r := range tok {
			if !unicode.IsLetter(r) {
				continue
			}
			letters++
			if !unicode.IsUpper(r) {
				shouted = false
				break
			}
		}
		if shouted && letters >= 3 {
			return true
		}
	}
	return false
}

// hasRepeatedPunct reports a run of two or more '!' or '?' characters.
func hasRepeatedPunct(text string) bool {
	run := 0
	for _, r := range text {
		if r == '!' || r == '?' {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
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
