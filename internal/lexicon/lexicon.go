// Package lexicon implements typo-tolerant phrase matching over free-form
// customer text, using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity.
//
// Vocabularies are small sets of Spanish (or English) words and phrases that
// characterize an emotional signal, an objection category, or a product need.
// Matching proceeds in two stages per phrase:
//
//  1. Exact containment: the normalized phrase appears in the normalized
//     text on token boundaries. Diacritics are folded first, so "económico"
//     matches "economico" and vice versa.
//
//  2. Approximate matching: n-grams of the text with the same token count as
//     the phrase are compared. An n-gram whose Double Metaphone codes overlap
//     the phrase's codes matches at the phonetic threshold (default 0.70,
//     raised to 0.80 for multi-token phrases); without phonetic overlap a
//     higher fuzzy threshold applies (default 0.85). Scores are Jaro-Winkler
//     similarities on the normalized strings.
//
// Short tokens (under four letters) are excluded from phonetic codes and
// token alignment: function words like "me" and "que" are shared across
// unrelated phrases and would make everything resemble everything. Phrases
// shorter than four letters in total never match approximately at all.
//
// All methods are safe for concurrent use. A Matcher is read-only after
// construction.
package lexicon

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minFuzzyLen is the minimum phrase length (letters, spaces excluded)
	// eligible for approximate matching.
	minFuzzyLen = 4

	// minPureFuzzyLen is the minimum phrase length for matches without
	// phonetic agreement. Short words produce spurious near-misses at high
	// Jaro-Winkler scores ("claro" vs "caro" is 0.94).
	minPureFuzzyLen = 6

	// multiTokenPhoneticFloor raises the phonetic threshold for multi-token
	// phrases. Phrases sharing a leading word score deceptively high on the
	// full string ("quiero seguir" vs "quiero empezar" is 0.78).
	multiTokenPhoneticFloor = 0.80

	// maxPhraseTokens caps the n-gram width scanned per phrase. Longer
	// phrases match by exact containment only.
	maxPhraseTokens = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-aligned n-gram to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// n-gram has no phonetic overlap with the phrase. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Hit is one vocabulary phrase found in a text.
type Hit struct {
	// Phrase is the vocabulary phrase exactly as supplied by the caller.
	Phrase string

	// Text is the normalized fragment of the input that matched.
	Text string

	// Score is 1.0 for exact containment, otherwise the Jaro-Winkler
	// similarity of the matched fragment.
	Score float64
}

// Matcher finds vocabulary phrases in customer text.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// FindAll returns one [Hit] per vocabulary phrase present in text, in
// vocabulary order. A phrase produces at most one hit (its best occurrence).
func (m *Matcher) FindAll(text string, vocabulary []string) []Hit {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var hits []Hit
	for _, phrase := range vocabulary {
		if h, ok := m.matchPhrase(tokens, phrase); ok {
			hits = append(hits, h)
		}
	}
	return hits
}

// Count returns the number of vocabulary phrases present in text.
func (m *Matcher) Count(text string, vocabulary []string) int {
	return len(m.FindAll(text, vocabulary))
}

// ContainsAny reports whether at least one vocabulary phrase is present in text.
func (m *Matcher) ContainsAny(text string, vocabulary []string) bool {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	for _, phrase := range vocabulary {
		if _, ok := m.matchPhrase(tokens, phrase); ok {
			return true
		}
	}
	return false
}

// BestMatch returns the highest-scoring hit across the vocabulary, breaking
// ties in favour of the earlier phrase. ok is false when nothing matches.
func (m *Matcher) BestMatch(text string, vocabulary []string) (Hit, bool) {
	hits := m.FindAll(text, vocabulary)
	if len(hits) == 0 {
		return Hit{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Score > best.Score {
			best = h
		}
	}
	return best, true
}

// matchPhrase tests a single phrase against the tokenized text.
func (m *Matcher) matchPhrase(tokens []string, phrase string) (Hit, bool) {
	pTokens := Tokenize(phrase)
	if len(pTokens) == 0 {
		return Hit{}, false
	}
	pNorm := strings.Join(pTokens, " ")

	if containsTokens(tokens, pTokens) {
		return Hit{Phrase: phrase, Text: pNorm, Score: 1.0}, true
	}

	// Short or very long phrases are exact-only.
	if letterCount(pTokens) < minFuzzyLen || len(pTokens) > maxPhraseTokens {
		return Hit{}, false
	}

	pCodes := codesForTokens(pTokens)
	pureFuzzyOK := letterCount(pTokens) >= minPureFuzzyLen
	n := len(pTokens)

	phonThr := m.phoneticThreshold
	if n > 1 && phonThr < multiTokenPhoneticFloor {
		phonThr = multiTokenPhoneticFloor
	}

	var (
		bestScore float64
		bestText  string
	)
	for i := 0; i+n <= len(tokens); i++ {
		gram := tokens[i : i+n]
		gramNorm := strings.Join(gram, " ")

		score := m.bestJWScore(gram, pTokens, gramNorm, pNorm)
		if codesOverlap(codesForTokens(gram), pCodes) {
			if score >= phonThr && score > bestScore {
				bestScore, bestText = score, gramNorm
			}
		} else if pureFuzzyOK && score >= m.fuzzyThreshold && score > bestScore {
			bestScore, bestText = score, gramNorm
		}
	}

	if bestText == "" {
		return Hit{}, false
	}
	return Hit{Phrase: phrase, Text: bestText, Score: bestScore}, true
}

// Normalize lowercases s and folds Spanish diacritics so accented and
// unaccented spellings compare equal.
func Normalize(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case 'á', 'à', 'ä', 'â':
			return 'a'
		case 'é', 'è', 'ë', 'ê':
			return 'e'
		case 'í', 'ì', 'ï', 'î':
			return 'i'
		case 'ó', 'ò', 'ö', 'ô':
			return 'o'
		case 'ú', 'ù', 'ü', 'û':
			return 'u'
		case 'ñ':
			return 'n'
		}
		return r
	}, s)
}

// Tokenize splits s into normalized word tokens, dropping punctuation.
func Tokenize(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsTokens reports whether phrase occurs as a contiguous token run.
func containsTokens(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// letterCount sums the rune lengths of the tokens.
func letterCount(tokens []string) int {
	n := 0
	for _, t := range tokens {
		n += len([]rune(t))
	}
	return n
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Tokens shorter than minFuzzyLen are skipped: function words
// like "me" and "que" share codes across unrelated phrases and would make
// every "me ..." phrase overlap every other. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		if len([]rune(t)) < minFuzzyLen {
			continue
		}
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// n-gram and the phrase using three strategies: full-string comparison,
// space-stripped comparison, and aligned per-token scoring.
func (m *Matcher) bestJWScore(gramTokens, phraseTokens []string, gramFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(gramFull, phraseFull, false)

	if len(gramTokens) > 1 || len(phraseTokens) > 1 {
		concat1 := strings.Join(gramTokens, "")
		concat2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if s := m.alignedTokenScore(gramTokens, phraseTokens); s > score {
		score = s
	}

	return score
}

// alignedTokenScore pairs each long phrase token with its best-scoring long
// gram token and returns the mean alignment. When the phrase has more than
// one long token, every one of them must align at the phonetic threshold;
// one shared word must not carry a whole phrase. Tokens shorter than
// minFuzzyLen are ignored on both sides.
func (m *Matcher) alignedTokenScore(gramTokens, phraseTokens []string) float64 {
	var long []string
	for _, pt := range phraseTokens {
		if len([]rune(pt)) >= minFuzzyLen {
			long = append(long, pt)
		}
	}
	if len(long) == 0 {
		return 0
	}

	sum := 0.0
	for _, pt := range long {
		best := 0.0
		for _, gt := range gramTokens {
			if len([]rune(gt)) < minFuzzyLen {
				continue
			}
			if s := matchr.JaroWinkler(gt, pt, false); s > best {
				best = s
			}
		}
		if len(long) > 1 && best < m.phoneticThreshold {
			return 0
		}
		sum += best
	}
	return sum / float64(len(long))
}
