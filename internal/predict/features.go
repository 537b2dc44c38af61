package predict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/lexicon"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/tier"
)

// recentWindow is how many trailing user messages feed the recency-scoped
// atoms (emotion signals, objection hits).
const recentWindow = 3

// Inputs is the snapshot a prediction is computed from. It is assembled once
// per message and shared by all four predictors, so no predictor sees
// another's output.
type Inputs struct {
	SessionID  string
	Profile    conversation.CustomerProfile
	Phase      conversation.Phase
	Tier       conversation.Tier
	Engagement float64

	// Recent holds the last few user message texts, oldest first.
	Recent []string

	// Transcript holds every user message text, oldest first. Need hits are
	// scanned over the whole conversation; everything recency-scoped uses
	// Recent.
	Transcript []string

	UserMessages int
}

// FromState snapshots prediction inputs from a session. The tentative current
// user message must already be appended to the transcript.
func FromState(s *conversation.ConversationState, now time.Time) Inputs {
	recent := s.LastUserMessages(recentWindow)
	texts := make([]string, len(recent))
	for i, m := range recent {
		texts[i] = m.Text
	}
	all := s.LastUserMessages(s.UserMessageCount())
	allTexts := make([]string, len(all))
	for i, m := range all {
		allTexts[i] = m.Text
	}
	var detected conversation.Tier
	if s.Tier != nil {
		detected = s.Tier.Detected
	}
	return Inputs{
		SessionID:    s.SessionID,
		Profile:      s.Profile,
		Phase:        s.Phase,
		Tier:         detected,
		Engagement:   s.EngagementScore(now),
		Recent:       texts,
		Transcript:   allTexts,
		UserMessages: len(allTexts),
	}
}

// Extractor turns Inputs into the sparse feature vector consumed by the
// linear models. Extraction is deterministic: the same Inputs always yield
// the same features and therefore the same fingerprint.
//
// Feature atoms: "engagement", "messages", "urgency", one-hots
// "phase:<PHASE>", "tier:<Tier>", "age:<band>", "profession:<category>",
// "budget:<band>", detected signals "signal:<name>" (base vocabulary plus the
// derived ready_to_buy and burnout_risk), and rule-vocabulary hits
// "objection:<tag>" / "need:<tag>".
//
// Safe for concurrent use.
type Extractor struct {
	matcher *lexicon.Matcher
	profile *tier.Analyzer
	signals []string
}

// NewExtractor creates an Extractor using the given matcher for all
// vocabulary scans.
func NewExtractor(m *lexicon.Matcher) *Extractor {
	return &Extractor{
		matcher: m,
		profile: tier.New(tier.WithMatcher(m)),
		signals: emotion.Signals(),
	}
}

// Extract computes the feature vector.
func (e *Extractor) Extract(in Inputs) map[string]float64 {
	f := make(map[string]float64, 16)

	f["engagement"] = clamp01(in.Engagement)
	msgs := float64(in.UserMessages)
	if msgs > 10 {
		msgs = 10
	}
	f["messages"] = msgs / 10

	if in.Phase != "" {
		f["phase:"+string(in.Phase)] = 1
	}
	if in.Tier != "" {
		f["tier:"+string(in.Tier)] = 1
	}

	current := ""
	if len(in.Recent) > 0 {
		current = in.Recent[len(in.Recent)-1]
	}
	pf := e.profile.Extract(in.Profile, current, in.Engagement)
	if pf.AgeBand != "" {
		f["age:"+pf.AgeBand] = 1
	}
	if pf.Profession != "" {
		f["profession:"+pf.Profession] = 1
	}
	if pf.Budget != "" {
		f["budget:"+pf.Budget] = 1
	}
	if pf.Urgent {
		f["urgency"] = 1
	}

	for _, sig := range e.signals {
		if e.anyMatch(in.Recent, emotion.Vocabulary(sig)) {
			f["signal:"+sig] = 1
		}
	}
	// Derived signals, same combination rules as the emotion analyzer.
	if f["signal:"+emotion.SignalCommitment] == 1 &&
		(f["signal:"+emotion.SignalUrgency] == 1 || f["signal:"+emotion.SignalInterest] == 1) {
		f["signal:"+emotion.SignalReadyToBuy] = 1
	}
	if f["signal:"+emotion.SignalFatigue] == 1 && f["signal:"+emotion.SignalOverwhelm] == 1 {
		f["signal:"+emotion.SignalBurnoutRisk] = 1
	}

	for _, tag := range models.ObjectionTags {
		if e.anyMatch(in.Recent, objectionVocabularies[tag]) {
			f["objection:"+tag] = 1
		}
	}
	for _, tag := range models.NeedTags {
		if e.anyMatch(in.Transcript, needVocabularies[tag]) {
			f["need:"+tag] = 1
		}
	}
	return f
}

// anyMatch scans messages one by one so phrases never match across message
// boundaries.
func (e *Extractor) anyMatch(messages []string, vocabulary []string) bool {
	for _, msg := range messages {
		if e.matcher.ContainsAny(msg, vocabulary) {
			return true
		}
	}
	return false
}

// Canonical renders a feature vector as the stable string fingerprints are
// computed over: sorted "name=value" pairs joined by ";".
func Canonical(features map[string]float64) string {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s=%.4f", name, features[name])
	}
	return b.String()
}

// Fingerprint returns the inputs_hash for a feature vector.
func Fingerprint(features map[string]float64) string {
	return conversation.FingerprintInputs(Canonical(features))
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
