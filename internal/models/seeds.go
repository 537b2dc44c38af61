package models

// SeedVersion is the version string carried by the built-in artifacts.
const SeedVersion = "seed-v1"

// Objection tags predicted by the objection model, canonical order.
var ObjectionTags = []string{
	"price_too_high",
	"no_time",
	"need_to_think",
	"spouse_consultation",
	"distrust",
	"not_interested",
	"timing_not_right",
}

// Need tags predicted by the needs model, canonical order.
var NeedTags = []string{
	"flexibility",
	"certification",
	"career_change",
	"income_increase",
	"personal_growth",
	"community_support",
	"quick_results",
}

// Next-best-action labels.
const (
	ActionContinue = "continue"
	ActionAsk      = "ask"
	ActionOffer    = "offer"
	ActionClose    = "close"
	ActionTransfer = "transfer"
)

// Actions lists the next-best-action labels in canonical order, which also
// breaks score ties (earlier wins).
var Actions = []string{ActionContinue, ActionAsk, ActionOffer, ActionClose, ActionTransfer}

// LabelConverted is the single label of the conversion model.
const LabelConverted = "converted"

// seededArtifacts builds the default artifacts installed by NewRegistry.
// Feature names follow the internal/predict extractor: "engagement",
// "messages", "urgency", one-hots "phase:<PHASE>", "tier:<Tier>",
// "age:<band>", "profession:<category>", "budget:<band>", detected signals
// "signal:<name>", and rule-vocabulary hits "objection:<tag>" / "need:<tag>".
//
// The seeds lean on the rule-vocabulary atoms with contextual nudges, so the
// linear models behave like calibrated versions of the rule fallbacks until
// retraining replaces them.
func seededArtifacts() []*Artifact {
	objWeights := make(map[string]map[string]float64, len(ObjectionTags))
	objBias := make(map[string]float64, len(ObjectionTags))
	for _, tag := range ObjectionTags {
		objWeights[tag] = map[string]float64{"objection:" + tag: 2.8}
		objBias[tag] = -1.4
	}
	objWeights["price_too_high"]["signal:price_concern"] = 0.6
	objWeights["price_too_high"]["budget:low"] = 0.4
	objWeights["no_time"]["signal:overwhelm"] = 0.5
	objWeights["need_to_think"]["signal:hesitation"] = 0.6
	objWeights["distrust"]["signal:doubt"] = 0.6
	objWeights["not_interested"]["signal:resistance"] = 0.6
	objWeights["timing_not_right"]["signal:hesitation"] = 0.3

	needWeights := make(map[string]map[string]float64, len(NeedTags))
	needBias := make(map[string]float64, len(NeedTags))
	for _, tag := range NeedTags {
		needWeights[tag] = map[string]float64{"need:" + tag: 2.6}
		needBias[tag] = -1.5
	}
	needWeights["flexibility"]["signal:overwhelm"] = 0.4
	needWeights["career_change"]["signal:fatigue"] = 0.4
	needWeights["income_increase"]["budget:low"] = 0.3
	needWeights["personal_growth"]["signal:hope"] = 0.4
	needWeights["community_support"]["signal:fear"] = 0.3
	needWeights["quick_results"]["signal:urgency"] = 0.5

	return []*Artifact{
		{
			ModelID: ModelObjection,
			Version: SeedVersion,
			Labels:  append([]string(nil), ObjectionTags...),
			Weights: objWeights,
			Bias:    objBias,
		},
		{
			ModelID: ModelNeeds,
			Version: SeedVersion,
			Labels:  append([]string(nil), NeedTags...),
			Weights: needWeights,
			Bias:    needBias,
		},
		{
			ModelID: ModelConversion,
			Version: SeedVersion,
			Labels:  []string{LabelConverted},
			Weights: map[string]map[string]float64{
				LabelConverted: {
					"engagement":           1.8,
					"signal:commitment":    1.1,
					"signal:ready_to_buy":  1.3,
					"signal:interest":      0.6,
					"signal:resistance":    -0.9,
					"signal:price_concern": -0.6,
					"signal:hesitation":    -0.4,
					"phase:CLOSING":        0.8,
					"phase:FOCUSED":        0.4,
					"phase:DISCOVERY":      -0.4,
					"tier:Premium":         0.3,
					"urgency":              0.4,
				},
			},
			Bias: map[string]float64{LabelConverted: -1.1},
		},
		{
			ModelID: ModelNextAction,
			Version: SeedVersion,
			Labels:  append([]string(nil), Actions...),
			Weights: map[string]map[string]float64{
				ActionContinue: {
					"phase:DISCOVERY": 0.3,
					"signal:openness": 0.3,
				},
				ActionAsk: {
					"signal:hesitation": 0.8,
					"signal:doubt":      0.7,
					"phase:DISCOVERY":   0.4,
					"messages":          -0.3,
				},
				ActionOffer: {
					"phase:ANALYSIS":  0.7,
					"phase:FOCUSED":   0.8,
					"signal:interest": 0.7,
					"engagement":      0.4,
				},
				ActionClose: {
					"signal:ready_to_buy": 1.6,
					"signal:commitment":   1.0,
					"phase:CLOSING":       1.2,
					"engagement":          0.5,
				},
				ActionTransfer: {
					"signal:frustration":  1.0,
					"signal:burnout_risk": 0.9,
					"signal:resistance":   0.7,
				},
			},
			Bias: map[string]float64{
				ActionContinue: 0.4,
				ActionAsk:      0.1,
				ActionOffer:    -0.2,
				ActionClose:    -0.6,
				ActionTransfer: -1.2,
			},
		},
	}
}
