package conversation

// Phase transition thresholds. Values are deliberately conservative: the
// machine only moves forward, so a premature jump cannot be undone within the
// session.
const (
	// objectionConfMin is the minimum objection-tag confidence that pulls a
	// session into PhaseObjection.
	objectionConfMin = 0.50

	// tierConfFocused is the tier confidence at which analysis gives way to a
	// focused recommendation.
	tierConfFocused = 0.60

	// conversionFocused is the conversion probability that shortcuts analysis
	// into a focused recommendation.
	conversionFocused = 0.40

	// conversionClose is the conversion probability treated as a buying
	// signal during the focused and objection phases.
	conversionClose = 0.70
)

// PhaseSignals aggregates the per-turn evidence the phase machine decides on.
// All fields refer to the turn being processed; zero values mean "no signal".
type PhaseSignals struct {
	// UserMessages is the user message count including the current turn.
	UserMessages int

	// NeedTags are the needs detected so far in the session.
	NeedTags []string

	// ObjectionTags and ObjectionConfidence describe the strongest objection
	// detected this turn.
	ObjectionTags       []string
	ObjectionConfidence float64

	// EmotionSignals are the raw micro-signals from the emotion analyzer,
	// e.g. "price_concern" or "ready_to_buy".
	EmotionSignals []string

	// TierConfidence is the stored tier decision confidence after this turn.
	TierConfidence float64

	// ConversionProbability is the latest conversion estimate.
	ConversionProbability float64

	// NextAction is the recommended next best action, e.g. "close".
	NextAction string
}

func (sig PhaseSignals) hasSignal(name string) bool {
	for _, s := range sig.EmotionSignals {
		if s == name {
			return true
		}
	}
	return false
}

func (sig PhaseSignals) objectionRaised() bool {
	return (len(sig.ObjectionTags) > 0 && sig.ObjectionConfidence >= objectionConfMin) ||
		sig.hasSignal("price_concern")
}

func (sig PhaseSignals) buyingSignal() bool {
	return sig.hasSignal("ready_to_buy") ||
		sig.ConversionProbability >= conversionClose ||
		sig.NextAction == "close"
}

// NextPhase computes the phase the session should occupy after the current
// turn. The result never ranks below current, and PhaseTerminal is never
// produced here: termination happens only through an explicit end or the
// inactivity reaper.
//
// An active objection outranks forward progress, so a price concern raised in
// any pre-objection phase jumps straight to PhaseObjection. From there the
// session can only move on to PhaseClosing once a buying signal appears.
func NextPhase(current Phase, sig PhaseSignals) Phase {
	if current == PhaseTerminal {
		return PhaseTerminal
	}

	if current.Rank() < PhaseObjection.Rank() && sig.objectionRaised() {
		return PhaseObjection
	}

	switch current {
	case PhaseDiscovery:
		if sig.UserMessages >= 2 && (len(sig.NeedTags) > 0 || sig.UserMessages >= 3) {
			return PhaseAnalysis
		}
	case PhaseAnalysis:
		if sig.TierConfidence >= tierConfFocused || sig.ConversionProbability >= conversionFocused {
			return PhaseFocused
		}
	case PhaseFocused, PhaseObjection:
		if sig.buyingSignal() {
			return PhaseClosing
		}
	}
	return current
}
