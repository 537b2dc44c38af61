package empathy

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cierra-ai/cierra/internal/lexicon"
)

// Template categories. Each category is driven by one experiment: the
// assigned variant steers which template text is selected.
const (
	CategoryGreeting       = "greeting"
	CategoryEmpathy        = "empathy"
	CategoryPriceObjection = "price_objection"
	CategoryClosing        = "closing"
)

// Price-objection sub-categories.
const (
	SubStickerShock       = "sticker_shock"
	SubBudgetConstraint   = "budget_constraint"
	SubValueQuestioning   = "value_questioning"
	SubComparisonShopping = "comparison_shopping"
	SubFinancialFear      = "financial_fear"
	SubTimingIssue        = "timing_issue"
	SubSpouseApproval     = "spouse_approval"
)

// Canned reply buckets served when the LLM path degrades.
const (
	CannedPrice   = "price"
	CannedProduct = "product"
	CannedGeneral = "general"
)

// cannedDefaultKey is the phase key holding a bucket's fallback text.
const cannedDefaultKey = "default"

var templateCategories = []string{
	CategoryGreeting,
	CategoryEmpathy,
	CategoryPriceObjection,
	CategoryClosing,
}

var priceSubcategories = []string{
	SubStickerShock,
	SubBudgetConstraint,
	SubValueQuestioning,
	SubComparisonShopping,
	SubFinancialFear,
	SubTimingIssue,
	SubSpouseApproval,
}

var timesOfDay = []string{"morning", "afternoon", "evening"}

// Template is one entry of the closed reply-fragment catalogue. Empty filter
// fields match anything; non-empty ones must equal the selection value.
type Template struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Variant     string `yaml:"variant,omitempty"`
	Emotion     string `yaml:"emotion,omitempty"`
	TimeOfDay   string `yaml:"time_of_day,omitempty"`
	Subcategory string `yaml:"subcategory,omitempty"`
	Text        string `yaml:"text"`
}

// Catalogue is the full template and phrase configuration the composer works
// from. It is immutable once loaded; Reload swaps the whole value.
type Catalogue struct {
	Templates []Template `yaml:"templates"`

	// ValidationPhrases feed the empathy score rubric.
	ValidationPhrases []string `yaml:"validation_phrases"`

	// FillerPhrases is the robotic-repetition blacklist.
	FillerPhrases []string `yaml:"filler_phrases"`

	// Pronouns are the person-centered tokens counted by the score rubric.
	Pronouns []string `yaml:"pronouns"`

	// BannedWords maps category to replacements applied to final agent text.
	BannedWords map[string]map[string]string `yaml:"banned_words"`

	// ForwardQuestions maps phase name to the question appended when a reply
	// does not move the conversation forward.
	ForwardQuestions map[string]string `yaml:"forward_questions"`

	// Canned maps bucket to phase name (or "default") to fallback text.
	Canned map[string]map[string]string `yaml:"canned"`
}

// Selection carries the lookup coordinates for one template pick.
type Selection struct {
	Variant     string
	Emotion     string
	TimeOfDay   string
	Subcategory string
}

// Select returns the most specific template of the category matching the
// selection. A template whose non-empty filter field disagrees with the
// selection is skipped; among the rest, variant-specific templates outrank
// subcategory-, emotion- and time-specific ones. Ties keep catalogue order.
func (c *Catalogue) Select(category string, sel Selection) (Template, bool) {
	best := Template{}
	bestScore := -1
	for _, t := range c.Templates {
		if t.Category != category {
			continue
		}
		score, ok := matchScore(t, sel)
		if ok && score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore >= 0
}

func matchScore(t Template, sel Selection) (int, bool) {
	score := 0
	switch {
	case t.Variant == "":
	case t.Variant == sel.Variant:
		score += 5
	default:
		return 0, false
	}
	switch {
	case t.Subcategory == "":
	case t.Subcategory == sel.Subcategory:
		score += 4
	default:
		return 0, false
	}
	switch {
	case t.Emotion == "":
	case t.Emotion == sel.Emotion:
		score += 2
	default:
		return 0, false
	}
	switch {
	case t.TimeOfDay == "":
	case t.TimeOfDay == sel.TimeOfDay:
		score++
	default:
		return 0, false
	}
	return score, true
}

// Question returns the forward-moving question for a phase, empty when the
// catalogue has none.
func (c *Catalogue) Question(phase string) string {
	return c.ForwardQuestions[phase]
}

// CannedReply returns the fallback text for a bucket and phase, preferring
// the phase-specific entry over the bucket default, then the general bucket.
func (c *Catalogue) CannedReply(bucket, phase string) string {
	if byPhase, ok := c.Canned[bucket]; ok {
		if text, ok := byPhase[phase]; ok {
			return text
		}
		if text, ok := byPhase[cannedDefaultKey]; ok {
			return text
		}
	}
	if bucket != CannedGeneral {
		return c.CannedReply(CannedGeneral, phase)
	}
	return ""
}

// LoadCatalogue reads and validates a YAML catalogue file.
func LoadCatalogue(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("empathy: open %q: %w", path, err)
	}
	defer f.Close()

	cat, err := CatalogueFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("empathy: parse %q: %w", path, err)
	}
	return cat, nil
}

// CatalogueFromReader decodes a YAML catalogue from r and validates it.
// Useful in tests where catalogues are built from string literals.
func CatalogueFromReader(r io.Reader) (*Catalogue, error) {
	cat := &Catalogue{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cat); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := ValidateCatalogue(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// ValidateCatalogue checks the catalogue for structural problems and for
// banned words inside template text. It returns a joined error listing every
// failure found.
func ValidateCatalogue(cat *Catalogue) error {
	var errs []error

	idsSeen := make(map[string]int, len(cat.Templates))
	for i, t := range cat.Templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[t.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of templates[%d]", prefix, t.ID, prev))
			}
			idsSeen[t.ID] = i
		}
		if !contains(templateCategories, t.Category) {
			errs = append(errs, fmt.Errorf("%s.category %q is invalid; valid values: greeting, empathy, price_objection, closing", prefix, t.Category))
		}
		if t.Text == "" {
			errs = append(errs, fmt.Errorf("%s.text is required", prefix))
		}
		if t.TimeOfDay != "" {
			if t.Category != CategoryGreeting {
				errs = append(errs, fmt.Errorf("%s.time_of_day only applies to greeting templates", prefix))
			} else if !contains(timesOfDay, t.TimeOfDay) {
				errs = append(errs, fmt.Errorf("%s.time_of_day %q is invalid; valid values: morning, afternoon, evening", prefix, t.TimeOfDay))
			}
		}
		if t.Subcategory != "" {
			if t.Category != CategoryPriceObjection {
				errs = append(errs, fmt.Errorf("%s.subcategory only applies to price_objection templates", prefix))
			} else if !contains(priceSubcategories, t.Subcategory) {
				errs = append(errs, fmt.Errorf("%s.subcategory %q is not a known price sub-category", prefix, t.Subcategory))
			}
		}
		for word := range cat.BannedWords[t.Category] {
			if containsWordFold(t.Text, word) {
				errs = append(errs, fmt.Errorf("%s.text contains banned word %q for category %s", prefix, word, t.Category))
			}
		}
	}

	for bucket := range cat.Canned {
		if bucket != CannedPrice && bucket != CannedProduct && bucket != CannedGeneral {
			errs = append(errs, fmt.Errorf("canned bucket %q is invalid; valid values: price, product, general", bucket))
		}
	}
	if cat.CannedReply(CannedGeneral, cannedDefaultKey) == "" {
		errs = append(errs, errors.New("canned.general.default is required"))
	}

	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// containsWordFold reports whether text contains word as a standalone token,
// case- and diacritic-insensitively.
func containsWordFold(text, word string) bool {
	for _, token := range lexicon.Tokenize(text) {
		if token == lexicon.Normalize(word) {
			return true
		}
	}
	return false
}
