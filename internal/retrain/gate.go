package retrain

import (
	"math"
	"time"

	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/tracking"
)

// Tag classification thresholds in the gate match the ones the prediction
// path selects tags with.
const (
	gateThresholdDefault = 0.5
	gateThresholdNeeds   = 0.35
)

// baselineCap bounds the reservoirs captured at promotion, matching the
// tracking window's per-feature cap.
const baselineCap = 2000

// split carves a deterministic holdout out of the window: with fraction f,
// every k-th sample is held out where k is round(1/f). The trainer never
// sees holdout rows.
func split(samples []tracking.TrainingSample, fraction float64) (train, holdout []tracking.TrainingSample) {
	if fraction <= 0 || fraction > 0.5 {
		fraction = DefaultHoldoutFraction
	}
	stride := int(math.Round(1 / fraction))
	if stride < 2 {
		stride = 2
	}
	for i, s := range samples {
		if i%stride == stride-1 {
			holdout = append(holdout, s)
		} else {
			train = append(train, s)
		}
	}
	return train, holdout
}

// evaluate replays the holdout through an artifact and scores it the way its
// predictions are consumed: per-label threshold calls for the tag models and
// the conversion model, the arg-max action for next_best_action. The second
// return is false when the holdout yields no decisions.
func evaluate(art *models.Artifact, holdout []tracking.TrainingSample) (float64, bool) {
	if art == nil || len(art.Labels) == 0 || len(holdout) == 0 {
		return 0, false
	}
	if art.ModelID == models.ModelNextAction {
		correct := 0
		for _, s := range holdout {
			_, best := actionScores(art, s.Features)
			if s.Truth[art.Labels[best]] {
				correct++
			}
		}
		return float64(correct) / float64(len(holdout)), true
	}

	threshold := gateThreshold(art.ModelID)
	var correct, total int
	for _, s := range holdout {
		for _, label := range art.Labels {
			p := sigmoid(art.Score(label, s.Features))
			if (p >= threshold) == s.Truth[label] {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(correct) / float64(total), true
}

func gateThreshold(modelID string) float64 {
	if modelID == models.ModelNeeds {
		return gateThresholdNeeds
	}
	return gateThresholdDefault
}

// capture snapshots the monitoring baseline for a freshly gated candidate:
// its output scores and feature values over the whole window, plus the
// holdout accuracy the gate measured.
func capture(art *models.Artifact, samples []tracking.TrainingSample, accuracy float64, now time.Time) *models.Baseline {
	bl := &models.Baseline{
		Features:   make(map[string][]float64),
		Accuracy:   accuracy,
		CapturedAt: now,
	}
	for _, s := range samples {
		if len(bl.Outputs) < baselineCap {
			bl.Outputs = append(bl.Outputs, servingScore(art, s.Features))
		}
		for name, v := range s.Features {
			if vals := bl.Features[name]; len(vals) < baselineCap {
				bl.Features[name] = append(vals, v)
			}
		}
	}
	return bl
}

// servingScore mirrors the output score the tracking window records for one
// prediction: the converted probability for the conversion model, the
// prediction confidence for everything else.
func servingScore(art *models.Artifact, features map[string]float64) float64 {
	switch art.ModelID {
	case models.ModelConversion:
		return sigmoid(art.Score(models.LabelConverted, features))
	case models.ModelNextAction:
		scores, best := actionScores(art, features)
		return softmaxShare(scores, best)
	default:
		// Tag models report the top cleared probability, or the certainty
		// that no tag is present when none clears.
		threshold := gateThreshold(art.ModelID)
		var best, top float64
		for _, label := range art.Labels {
			p := sigmoid(art.Score(label, features))
			if p > best {
				best = p
			}
			if p >= threshold && p > top {
				top = p
			}
		}
		if top > 0 {
			return top
		}
		return 1 - best
	}
}

func actionScores(art *models.Artifact, features map[string]float64) ([]float64, int) {
	scores := make([]float64, len(art.Labels))
	best := 0
	for i, label := range art.Labels {
		scores[i] = art.Score(label, features)
		if scores[i] > scores[best] {
			best = i
		}
	}
	return scores, best
}

func softmaxShare(scores []float64, idx int) float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - max)
	}
	return math.Exp(scores[idx]-max) / sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
