package bandit

import "github.com/cierra-ai/cierra/internal/conversation"

// Experiment ids of the default catalogue. The empathy composer reads the
// assigned variants under these ids when selecting templates.
const (
	ExperimentGreetingStyle  = "greeting_style"
	ExperimentEmpathyLevel   = "empathy_level"
	ExperimentPriceObjection = "price_objection_handling"
	ExperimentClosing        = "closing_technique"
)

// ControlVariant is the control arm id every default experiment carries.
const ControlVariant = "control"

// DefaultExperiments returns the built-in experiment catalogue. Sample sizes
// and confidence levels are starting points; configuration overrides them per
// experiment.
func DefaultExperiments() []Experiment {
	return []Experiment{
		{
			ID:          ExperimentGreetingStyle,
			Description: "tone of the opening exchange",
			Variants: []Variant{
				{ID: ControlVariant, Description: "warm standard greeting"},
				{ID: "casual_friendly", Description: "informal, first-name, light emoji-free warmth"},
				{ID: "formal_warm", Description: "usted register with warm phrasing"},
			},
			Control:         ControlVariant,
			Phases:          []conversation.Phase{conversation.PhaseDiscovery},
			MinSampleSize:   200,
			ConfidenceLevel: 0.95,
			AutoDeploy:      true,
		},
		{
			ID:          ExperimentEmpathyLevel,
			Description: "how much explicit emotional validation replies carry",
			Variants: []Variant{
				{ID: ControlVariant, Description: "one validation phrase per reply"},
				{ID: "amplified", Description: "validation plus mirrored emotion wording"},
				{ID: "restrained", Description: "validation only on strong negative signals"},
			},
			Control:         ControlVariant,
			MinSampleSize:   200,
			ConfidenceLevel: 0.95,
			AutoDeploy:      true,
		},
		{
			ID:          ExperimentPriceObjection,
			Description: "strategy when price concerns surface",
			Variants: []Variant{
				{ID: ControlVariant, Description: "acknowledge, then restate value"},
				{ID: "value_reframe", Description: "reframe cost as investment per outcome"},
				{ID: "payment_plan_first", Description: "lead with installment options"},
				{ID: "social_proof", Description: "lead with peer results"},
			},
			Control:         ControlVariant,
			Phases:          []conversation.Phase{conversation.PhaseObjection},
			MinSampleSize:   200,
			ConfidenceLevel: 0.95,
			AutoDeploy:      true,
		},
		{
			ID:          ExperimentClosing,
			Description: "how the close is asked for",
			Variants: []Variant{
				{ID: ControlVariant, Description: "direct enrollment question"},
				{ID: "assumptive_close", Description: "next-step framing as already agreed"},
				{ID: "scarcity_framing", Description: "cohort start date and seat limits"},
				{ID: "soft_summary", Description: "recap benefits, then invite"},
			},
			Control:         ControlVariant,
			Phases:          []conversation.Phase{conversation.PhaseClosing},
			MinSampleSize:   200,
			ConfidenceLevel: 0.95,
			AutoDeploy:      true,
		},
	}
}
