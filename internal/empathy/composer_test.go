package empathy_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/bandit"
	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/empathy"
)

var morning = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestCompose_GreetingFollowsTimeOfDay(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.Compose(context.Background(), empathy.ComposeInput{
		Phase:         conversation.PhaseDiscovery,
		FirstExchange: true,
		Variants:      map[string]string{bandit.ExperimentGreetingStyle: "control"},
		Profile:       conversation.CustomerProfile{Name: "Ana"},
		Now:           morning,
	})

	if got.Category != empathy.CategoryGreeting {
		t.Errorf("Category = %q, want %q", got.Category, empathy.CategoryGreeting)
	}
	if got.TemplateID != "greeting_morning" {
		t.Errorf("TemplateID = %q, want greeting_morning", got.TemplateID)
	}
	if !strings.Contains(got.Fragment, "Buenos días, Ana") {
		t.Errorf("Fragment = %q, want the rendered morning greeting", got.Fragment)
	}
}

func TestCompose_PriceObjectionPicksSubcategory(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.Compose(context.Background(), empathy.ComposeInput{
		Phase:      conversation.PhaseObjection,
		Variants:   map[string]string{bandit.ExperimentPriceObjection: "control"},
		Objections: []string{"price_too_high"},
		UserText:   "es que no me alcanza ahorita",
	})

	if got.Category != empathy.CategoryPriceObjection {
		t.Errorf("Category = %q, want %q", got.Category, empathy.CategoryPriceObjection)
	}
	if got.TemplateID != "price_budget" {
		t.Errorf("TemplateID = %q, want price_budget", got.TemplateID)
	}
}

func TestCompose_ObjectionWithoutPriceStaysEmpathy(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.Compose(context.Background(), empathy.ComposeInput{
		Phase:      conversation.PhaseObjection,
		Variants:   map[string]string{bandit.ExperimentEmpathyLevel: "control"},
		Objections: []string{"no_time"},
		UserText:   "no tengo tiempo libre",
		Emotion:    conversation.EmotionSnapshot{PrimaryEmotion: "hesitant"},
	})

	if got.Category != empathy.CategoryEmpathy {
		t.Errorf("Category = %q, want %q", got.Category, empathy.CategoryEmpathy)
	}
	if got.TemplateID != "empathy_hesitant" {
		t.Errorf("TemplateID = %q, want empathy_hesitant", got.TemplateID)
	}
}

func TestCompose_ClosingWithoutAssignmentUsesControl(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.Compose(context.Background(), empathy.ComposeInput{Phase: conversation.PhaseClosing})

	if got.Category != empathy.CategoryClosing {
		t.Errorf("Category = %q, want %q", got.Category, empathy.CategoryClosing)
	}
	if got.TemplateID != "closing_direct" {
		t.Errorf("TemplateID = %q, want closing_direct", got.TemplateID)
	}
}

func TestCompose_Directives(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.Compose(context.Background(), empathy.ComposeInput{
		Phase: conversation.PhaseAnalysis,
		Emotion: conversation.EmotionSnapshot{
			PrimaryEmotion: "frustrated",
			Intensity:      0.8,
			Signals:        []string{emotion.SignalFrustration, emotion.SignalBurnoutRisk},
		},
		Variants: map[string]string{bandit.ExperimentEmpathyLevel: "amplified"},
	})

	if len(got.Directives) != 4 {
		t.Fatalf("Directives = %v, want 4 entries", got.Directives)
	}
	joined := strings.Join(got.Directives, "\n")
	for _, want := range []string{
		"feeling of being frustrated",
		"intensity is high",
		"Burnout risk",
		"Mirror the customer's own wording",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Directives %v missing %q", got.Directives, want)
		}
	}
}

func TestCompose_FragmentCacheReused(t *testing.T) {
	t.Parallel()
	mem := cache.NewMemory()
	c := empathy.New(empathy.WithCache(mem))

	in := empathy.ComposeInput{
		Phase:         conversation.PhaseDiscovery,
		FirstExchange: true,
		Variants:      map[string]string{bandit.ExperimentGreetingStyle: "control"},
		Profile:       conversation.CustomerProfile{Name: "Ana"},
		Now:           morning,
	}
	first := c.Compose(context.Background(), in)
	second := c.Compose(context.Background(), in)

	if first.Fragment != second.Fragment {
		t.Errorf("Fragment changed between composes: %q vs %q", first.Fragment, second.Fragment)
	}
	if got := mem.Len(cache.NSEmpathyFragment); got != 1 {
		t.Errorf("cached fragments = %d, want 1", got)
	}

	in.Profile.Name = "Luis"
	third := c.Compose(context.Background(), in)
	if !strings.Contains(third.Fragment, "Luis") {
		t.Errorf("Fragment = %q, want it rendered for Luis", third.Fragment)
	}
	if got := mem.Len(cache.NSEmpathyFragment); got != 2 {
		t.Errorf("cached fragments = %d, want 2", got)
	}
}

func TestPriceSubcategory(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	tests := []struct {
		text string
		want string
	}{
		{"mi esposo dice que es muy caro", empathy.SubSpouseApproval},
		{"vi uno mas barato en otra escuela", empathy.SubComparisonShopping},
		{"ahorita no puedo, hasta el próximo mes", empathy.SubTimingIssue},
		{"me da miedo pagar y que no funcione", empathy.SubFinancialFear},
		{"es que no me alcanza", empathy.SubBudgetConstraint},
		{"¿qué incluye el curso por ese precio?", empathy.SubValueQuestioning},
		{"está demasiado caro", empathy.SubStickerShock},
		{"mmm déjame pensarlo", empathy.SubStickerShock},
	}
	for _, tt := range tests {
		if got := c.PriceSubcategory(tt.text); got != tt.want {
			t.Errorf("PriceSubcategory(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hour int
		want string
	}{
		{4, "evening"},
		{5, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{18, "afternoon"},
		{19, "evening"},
		{23, "evening"},
	}
	for _, tt := range tests {
		now := time.Date(2026, 3, 14, tt.hour, 30, 0, 0, time.UTC)
		if got := empathy.TimeOfDay(now); got != tt.want {
			t.Errorf("TimeOfDay(%02d:30) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()
	const tmpl = "¡Buenos días, {name}! ¿Cómo estás?"

	if got := empathy.RenderTemplate(tmpl, "Ana"); got != "¡Buenos días, Ana! ¿Cómo estás?" {
		t.Errorf("RenderTemplate with name = %q", got)
	}
	if got := empathy.RenderTemplate(tmpl, ""); got != "¡Buenos días! ¿Cómo estás?" {
		t.Errorf("RenderTemplate without name = %q", got)
	}
}

func TestPostProcess_RepeatedFillerRejected(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	in := empathy.ProcessInput{
		Completion:    "Como te mencioné antes, tenemos mentoras en vivo. ¿Te gustaría conocerlas?",
		Category:      empathy.CategoryEmpathy,
		Phase:         conversation.PhaseFocused,
		PreviousAgent: []string{"Como te mencioné, hay clases en vivo cada semana."},
	}
	got := c.PostProcess(in)
	if !got.Rejected {
		t.Fatalf("PostProcess = %+v, want rejection", got)
	}
	if !strings.Contains(got.RejectReason, "como te mencione") {
		t.Errorf("RejectReason = %q, want it to name the filler", got.RejectReason)
	}

	in.PreviousAgent = []string{"Hola, soy Cierra."}
	if got := c.PostProcess(in); got.Rejected {
		t.Errorf("PostProcess rejected %q with no prior filler use: %q", in.Completion, got.RejectReason)
	}
}

func TestPostProcess_BannedWordsAndForwardQuestion(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.PostProcess(empathy.ProcessInput{
		Completion: "Nunca vas a encontrar algo tan barato.",
		Category:   empathy.CategoryPriceObjection,
		Phase:      conversation.PhaseObjection,
	})

	if got.Rejected {
		t.Fatalf("PostProcess rejected: %q", got.RejectReason)
	}
	lower := strings.ToLower(got.Text)
	if strings.Contains(lower, "nunca") || strings.Contains(lower, "barato") {
		t.Errorf("Text = %q, banned words survived", got.Text)
	}
	if !strings.Contains(got.Text, "pocas veces") || !strings.Contains(got.Text, "accesible") {
		t.Errorf("Text = %q, want replacements applied", got.Text)
	}
	if !strings.HasSuffix(got.Text, "?") {
		t.Errorf("Text = %q, want a forward question appended", got.Text)
	}
}

func TestPostProcess_NameAtMostOnce(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.PostProcess(empathy.ProcessInput{
		Completion:   "Ana, me da gusto, Ana. ¿Te parece bien, Ana?",
		Category:     empathy.CategoryClosing,
		Phase:        conversation.PhaseClosing,
		CustomerName: "Ana",
	})

	want := "Ana, me da gusto. ¿Te parece bien?"
	if got.Text != want {
		t.Errorf("Text = %q, want %q", got.Text, want)
	}
	if n := strings.Count(got.Text, "Ana"); n != 1 {
		t.Errorf("name appears %d times, want 1", n)
	}
}

func TestPostProcess_ClosingSkipsQuestionAppend(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.PostProcess(empathy.ProcessInput{
		Completion: "Firmemos hoy mismo.",
		Category:   empathy.CategoryClosing,
		Phase:      conversation.PhaseClosing,
	})
	if got.Text != "Firmemos hoy mismo." {
		t.Errorf("Text = %q, want the completion untouched", got.Text)
	}
}

func TestPostProcess_EmptyCompletionRejected(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	got := c.PostProcess(empathy.ProcessInput{Completion: "   "})
	if !got.Rejected || got.RejectReason != "empty completion" {
		t.Errorf("PostProcess = %+v, want empty-completion rejection", got)
	}
}

func TestScore(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	t.Run("balanced reply", func(t *testing.T) {
		t.Parallel()
		text := "Entiendo cómo te sientes y es normal tener dudas. Quiero ayudarte a salir adelante, y tu esfuerzo vale. ¿Te parece si vemos el siguiente paso?"
		got := c.Score(text)
		if got < 7.7 || got > 7.9 {
			t.Errorf("Score = %.4f, want about 7.8", got)
		}
	})

	t.Run("flat reply scores zero", func(t *testing.T) {
		t.Parallel()
		if got := c.Score("El precio es de 15000 pesos."); got != 0 {
			t.Errorf("Score = %.4f, want 0", got)
		}
	})

	t.Run("rubric caps at ten", func(t *testing.T) {
		t.Parallel()
		text := "Te entiendo, comprendo, es comprensible, es normal, tiene sentido, te escucho; tú puedes salir adelante, ¿te ayudo?"
		if got := c.Score(text); got != 10 {
			t.Errorf("Score = %.4f, want the 10.0 cap", got)
		}
	})
}

func TestCanned(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	if got := c.Canned(empathy.CannedPrice, conversation.PhaseObjection); !strings.Contains(got, "pago a meses") {
		t.Errorf("Canned(price) = %q, want the payment-plan text", got)
	}
	if got := c.Canned(empathy.CannedGeneral, conversation.PhaseClosing); !strings.Contains(got, "siguiente paso") {
		t.Errorf("Canned(general, CLOSING) = %q, want the closing text", got)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	c := empathy.New()

	bad := &empathy.Catalogue{
		Templates: []empathy.Template{
			{ID: "x", Category: empathy.CategoryEmpathy, Text: "hola"},
			{ID: "x", Category: empathy.CategoryEmpathy, Text: "hola"},
		},
	}
	if err := c.Reload(bad); err == nil {
		t.Fatal("Reload(bad) = nil, want validation failure")
	}
	if got := len(c.Catalogue().Templates); got < 20 {
		t.Errorf("catalogue replaced by a rejected reload, %d templates left", got)
	}

	good := &empathy.Catalogue{
		Templates: []empathy.Template{
			{ID: "only", Category: empathy.CategoryEmpathy, Text: "Te escucho."},
		},
		Canned: map[string]map[string]string{
			empathy.CannedGeneral: {"default": "Gracias por escribir."},
		},
	}
	if err := c.Reload(good); err != nil {
		t.Fatalf("Reload(good) = %v", err)
	}
	if got := len(c.Catalogue().Templates); got != 1 {
		t.Errorf("catalogue templates = %d, want 1 after reload", got)
	}
}
