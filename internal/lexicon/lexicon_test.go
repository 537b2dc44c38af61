package lexicon_test

import (
	"testing"

	"github.com/cierra-ai/cierra/internal/lexicon"
)

func TestMatcher_ExactSingleWord(t *testing.T) {
	t.Parallel()

	m := lexicon.New()
	vocab := []string{"precio", "caro", "presupuesto"}

	hits := m.FindAll("El precio me parece alto", vocab)
	if len(hits) != 1 {
		t.Fatalf("FindAll: got %d hits, want 1", len(hits))
	}
	if hits[0].Phrase != "precio" {
		t.Errorf("hit.Phrase = %q, want %q", hits[0].Phrase, "precio")
	}
	if hits[0].Score != 1.0 {
		t.Errorf("hit.Score = %f, want 1.0 for exact containment", hits[0].Score)
	}
}

func TestMatcher_DiacriticFolding(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	// Accented vocabulary should match unaccented text and vice versa.
	if !m.ContainsAny("que opciones economicas tienen", []string{"económicas"}) {
		t.Error("ContainsAny: unaccented text should match accented phrase")
	}
	if !m.ContainsAny("¿qué opciones económicas tienen?", []string{"economicas"}) {
		t.Error("ContainsAny: accented text should match unaccented phrase")
	}
}

func TestMatcher_MultiWordPhrase(t *testing.T) {
	t.Parallel()

	m := lexicon.New()
	vocab := []string{"no puedo pagar", "muy caro"}

	hits := m.FindAll("La verdad no puedo pagar eso ahora", vocab)
	if len(hits) != 1 {
		t.Fatalf("FindAll: got %d hits, want 1", len(hits))
	}
	if hits[0].Phrase != "no puedo pagar" {
		t.Errorf("hit.Phrase = %q, want %q", hits[0].Phrase, "no puedo pagar")
	}
	if hits[0].Score != 1.0 {
		t.Errorf("hit.Score = %f, want 1.0", hits[0].Score)
	}
}

func TestMatcher_TypoTolerance(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	// "presio" is a common misspelling of "precio"; both share Double
	// Metaphone codes, so the phonetic arm accepts at >= 0.70.
	hits := m.FindAll("el presio esta muy alto", []string{"precio"})
	if len(hits) != 1 {
		t.Fatalf("FindAll: got %d hits, want 1 (typo should match)", len(hits))
	}
	if hits[0].Score >= 1.0 || hits[0].Score < 0.7 {
		t.Errorf("hit.Score = %f, want in [0.7, 1.0)", hits[0].Score)
	}
	if hits[0].Text != "presio" {
		t.Errorf("hit.Text = %q, want %q", hits[0].Text, "presio")
	}
}

func TestMatcher_ShortWordsExactOnly(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	// "caro" is four letters: eligible for phonetic matching but not for the
	// pure-fuzzy arm, so "claro" (no code overlap) must not match it.
	if m.ContainsAny("claro que si", []string{"caro"}) {
		t.Error("ContainsAny: \"claro\" should not match \"caro\"")
	}
	if !m.ContainsAny("es muy caro", []string{"caro"}) {
		t.Error("ContainsAny: exact \"caro\" should match")
	}
}

func TestMatcher_SharedFunctionWordsDoNotMatch(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	// Phrases sharing only a short function word must not cross-match.
	if m.ContainsAny("me interesa el curso", []string{"me gustaria"}) {
		t.Error("ContainsAny: \"me interesa\" should not match \"me gustaria\"")
	}
	if m.ContainsAny("no se donde queda", []string{"no creo"}) {
		t.Error("ContainsAny: \"no se\" should not match \"no creo\"")
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	hits := m.FindAll("hola buenos dias", []string{"precio", "garantia", "entrega"})
	if len(hits) != 0 {
		t.Fatalf("FindAll: got %d hits, want 0: %+v", len(hits), hits)
	}
}

func TestMatcher_Count(t *testing.T) {
	t.Parallel()

	m := lexicon.New()
	vocab := []string{"caro", "presupuesto", "descuento"}

	got := m.Count("esta caro y mi presupuesto es poco, hay descuento?", vocab)
	if got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestMatcher_BestMatch(t *testing.T) {
	t.Parallel()

	m := lexicon.New()
	vocab := []string{"precio", "garantia"}

	// Exact "garantia" should outrank the fuzzy "presio"/"precio" hit.
	hit, ok := m.BestMatch("el presio y la garantia", vocab)
	if !ok {
		t.Fatal("BestMatch: ok=false, want true")
	}
	if hit.Phrase != "garantia" {
		t.Errorf("BestMatch.Phrase = %q, want %q", hit.Phrase, "garantia")
	}
}

func TestMatcher_BestMatch_Empty(t *testing.T) {
	t.Parallel()

	m := lexicon.New()

	if _, ok := m.BestMatch("", []string{"precio"}); ok {
		t.Error("BestMatch on empty text: ok=true, want false")
	}
	if _, ok := m.BestMatch("hola", nil); ok {
		t.Error("BestMatch on nil vocabulary: ok=true, want false")
	}
}

func TestMatcher_ThresholdOptions(t *testing.T) {
	t.Parallel()

	// Raise both thresholds so near-matches are rejected.
	strict := lexicon.New(
		lexicon.WithPhoneticThreshold(0.99),
		lexicon.WithFuzzyThreshold(0.99),
	)
	if strict.ContainsAny("el presio esta alto", []string{"precio"}) {
		t.Error("ContainsAny with threshold=0.99 should reject near-matches")
	}
	// Exact containment ignores thresholds.
	if !strict.ContainsAny("el precio esta alto", []string{"precio"}) {
		t.Error("ContainsAny: exact match should pass regardless of thresholds")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Qué", "que"},
		{"AÑOS", "anos"},
		{"Überraschung", "uberraschung"},
		{"ya", "ya"},
	}
	for _, tt := range tests {
		if got := lexicon.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := lexicon.Tokenize("¡Hola! ¿Cuánto cuesta, más o menos?")
	want := []string{"hola", "cuanto", "cuesta", "mas", "o", "menos"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tokenize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
