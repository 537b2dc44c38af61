package empathy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
)

// Knowledge is the product fact sheet: short statements about the programme
// and its tiers that the agent may weave into replies. Facts are stored in
// the static-knowledge cache namespace at startup and read back per turn, so
// a reload never interrupts in-flight conversations.
type Knowledge struct {
	// General holds facts that apply to every conversation.
	General []string `yaml:"general"`

	// Tiers maps a lowercased tier name to the facts for that plan.
	Tiers map[string][]string `yaml:"tiers"`
}

// knowledgeGeneralKey is the cache key for tier-independent facts. Tier
// facts live under Key("tier", <lowercased name>).
const knowledgeGeneralKey = "general"

// LoadKnowledge reads and validates a YAML fact sheet.
func LoadKnowledge(path string) (*Knowledge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("empathy: open %q: %w", path, err)
	}
	defer f.Close()

	k, err := KnowledgeFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("empathy: parse %q: %w", path, err)
	}
	return k, nil
}

// KnowledgeFromReader decodes a YAML fact sheet from r and validates it.
func KnowledgeFromReader(r io.Reader) (*Knowledge, error) {
	k := &Knowledge{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(k); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := ValidateKnowledge(k); err != nil {
		return nil, err
	}
	return k, nil
}

// ValidateKnowledge rejects empty fact strings and tier names the
// conversation model does not know.
func ValidateKnowledge(k *Knowledge) error {
	known := make(map[string]bool, len(conversation.Tiers))
	for _, t := range conversation.Tiers {
		known[strings.ToLower(string(t))] = true
	}
	for i, fact := range k.General {
		if strings.TrimSpace(fact) == "" {
			return fmt.Errorf("general fact %d: empty text", i)
		}
	}
	for tier, facts := range k.Tiers {
		if !known[strings.ToLower(tier)] {
			return fmt.Errorf("tier %q: unknown tier name", tier)
		}
		for i, fact := range facts {
			if strings.TrimSpace(fact) == "" {
				return fmt.Errorf("tier %q fact %d: empty text", tier, i)
			}
		}
	}
	return nil
}

// DefaultKnowledge returns the built-in Spanish fact sheet. Deployments
// override it with a YAML file; the defaults keep the agent informative
// when none is configured.
func DefaultKnowledge() *Knowledge {
	return &Knowledge{
		General: []string{
			"El programa combina clases en vivo, material grabado y acompañamiento de mentoras.",
			"Todas las inscripciones incluyen una garantía de satisfacción de 14 días.",
			"El pago puede hacerse en una sola exhibición o a meses con tarjetas participantes.",
			"El acceso es digital y funciona desde computadora, tableta o teléfono.",
		},
		Tiers: map[string][]string{
			"essential": {
				"El plan Essential incluye el curso completo grabado y la comunidad privada de alumnas.",
				"Essential es la opción más accesible para empezar a tu propio ritmo.",
			},
			"pro": {
				"El plan Pro agrega clases en vivo semanales y retroalimentación grupal de mentoras.",
				"Las sesiones en vivo de Pro quedan grabadas por si no puedes asistir.",
			},
			"elite": {
				"El plan Elite incluye seguimiento uno a uno con una mentora asignada.",
				"Elite tiene cupo limitado por generación para cuidar la atención personalizada.",
			},
			"premium": {
				"El plan Premium suma sesiones individuales de estrategia y acceso anticipado a contenido nuevo.",
				"Premium incluye todo lo de Elite más acompañamiento extendido al terminar el curso.",
			},
		},
	}
}

// WarmKnowledge writes the fact sheet into the static-knowledge namespace.
// Existing entries for the same keys are overwritten, so calling it again
// after a reload refreshes the facts in place.
func WarmKnowledge(ctx context.Context, c cache.Cache, k *Knowledge) error {
	put := func(key string, facts []string) error {
		if len(facts) == 0 {
			return nil
		}
		raw, err := json.Marshal(facts)
		if err != nil {
			return err
		}
		return c.Set(ctx, cache.NSStaticKnowledge, key, raw)
	}

	if err := put(knowledgeGeneralKey, k.General); err != nil {
		return fmt.Errorf("empathy: warm knowledge: %w", err)
	}
	for tier, facts := range k.Tiers {
		key := cache.Key("tier", strings.ToLower(tier))
		if err := put(key, facts); err != nil {
			return fmt.Errorf("empathy: warm knowledge tier %q: %w", tier, err)
		}
	}
	return nil
}

// TierFacts reads the general facts plus the facts for the given tier from
// the cache. Misses and cache errors yield a shorter or empty list rather
// than an error: the agent simply answers with less product detail.
func TierFacts(ctx context.Context, c cache.Cache, tier conversation.Tier) []string {
	read := func(key string) []string {
		raw, ok, err := c.Get(ctx, cache.NSStaticKnowledge, key)
		if err != nil || !ok {
			return nil
		}
		var facts []string
		if err := json.Unmarshal(raw, &facts); err != nil {
			return nil
		}
		return facts
	}

	facts := read(knowledgeGeneralKey)
	if tier != "" {
		key := cache.Key("tier", strings.ToLower(string(tier)))
		facts = append(facts, read(key)...)
	}
	return facts
}
