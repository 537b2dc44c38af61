// Package bandit implements the UCB1 experimenter that assigns prompt-shaping
// variants per (session, experiment) and learns from end-of-conversation
// rewards.
//
// Assignment is idempotent: a session's recorded variant is always returned
// on repeat calls, and the impression is counted only once. Rewards are
// credited at most once per (session, experiment); duplicates are dropped
// silently. When auto-deploy is enabled and an experiment has enough
// impressions, a variant that beats the control arm at the configured
// confidence level completes the experiment and becomes the default for new
// sessions.
//
// Arm counters live behind a per-experiment mutex; there is no global lock.
// Experiment state snapshots to the document store on [Experimenter.Flush]
// (write-behind, wrapped by the persistence breaker) and reloads with
// [Experimenter.Restore] at startup.
package bandit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/internal/store"
)

// Experiment statuses.
const (
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
)

var (
	// ErrUnknownExperiment is returned for an experiment id absent from the
	// catalogue.
	ErrUnknownExperiment = errors.New("bandit: unknown experiment")

	// ErrNotAssigned is returned when a reward arrives for an experiment the
	// session was never assigned a variant of.
	ErrNotAssigned = errors.New("bandit: experiment not assigned to session")
)

// Variant is one arm of an experiment.
type Variant struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Experiment defines one A/B experiment: its arms, the control arm the win
// test compares against, the phases it applies to (empty means every phase),
// and the auto-deploy policy.
type Experiment struct {
	ID              string               `json:"id"`
	Description     string               `json:"description,omitempty"`
	Variants        []Variant            `json:"variants"`
	Control         string               `json:"control"`
	Phases          []conversation.Phase `json:"phases,omitempty"`
	MinSampleSize   int                  `json:"min_sample_size"`
	ConfidenceLevel float64              `json:"confidence_level"`
	AutoDeploy      bool                 `json:"auto_deploy"`
}

// Arm holds the learned counters of one variant.
type Arm struct {
	Impressions int64   `json:"impressions"`
	Rewards     int64   `json:"rewards"`
	RewardSum   float64 `json:"reward_sum"`
}

// Mean returns the average reward per impression, zero before the first
// impression.
func (a Arm) Mean() float64 {
	if a.Impressions == 0 {
		return 0
	}
	return a.RewardSum / float64(a.Impressions)
}

// ExperimentState is the persisted and observable snapshot of one experiment.
type ExperimentState struct {
	ExperimentID string         `json:"experiment_id"`
	Status       string         `json:"status"`
	Winner       string         `json:"winner,omitempty"`
	Arms         map[string]Arm `json:"arms"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// experiment pairs a definition with its mutable counters.
type experiment struct {
	def Experiment

	mu        sync.Mutex
	status    string
	winner    string
	arms      map[string]*Arm
	sortedIDs []string
	updatedAt time.Time
	dirty     bool
}

// Option configures an [Experimenter].
type Option func(*options)

type options struct {
	experiments []Experiment
	docs        store.DocStore
	breaker     resilience.Breaker
}

// WithExperiments replaces the default catalogue.
func WithExperiments(exps ...Experiment) Option {
	return func(o *options) {
		o.experiments = exps
	}
}

// WithDocStore enables experiment snapshots through the given store.
func WithDocStore(docs store.DocStore) Option {
	return func(o *options) {
		o.docs = docs
	}
}

// WithBreaker wraps snapshot writes with the given breaker, normally the
// persistence breaker from the registry.
func WithBreaker(b resilience.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// Experimenter serves variant assignments and records rewards for the
// experiment catalogue. The catalogue is fixed at construction; all mutable
// state sits behind per-experiment locks, so the Experimenter is safe for
// concurrent use. Methods taking a [conversation.ConversationState] mutate it
// and must be called by the goroutine owning the session.
type Experimenter struct {
	exps    map[string]*experiment
	order   []string
	docs    store.DocStore
	breaker resilience.Breaker
}

// New creates an Experimenter over the default catalogue unless
// [WithExperiments] overrides it.
func New(opts ...Option) *Experimenter {
	o := options{experiments: DefaultExperiments()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Experimenter{
		exps:    make(map[string]*experiment, len(o.experiments)),
		order:   make([]string, 0, len(o.experiments)),
		docs:    o.docs,
		breaker: o.breaker,
	}
	for _, def := range o.experiments {
		arms := make(map[string]*Arm, len(def.Variants))
		ids := make([]string, 0, len(def.Variants))
		for _, v := range def.Variants {
			arms[v.ID] = &Arm{}
			ids = append(ids, v.ID)
		}
		sort.Strings(ids)
		e.exps[def.ID] = &experiment{
			def:       def,
			status:    StatusActive,
			arms:      arms,
			sortedIDs: ids,
		}
		e.order = append(e.order, def.ID)
	}
	return e
}

// Relevant returns the experiment ids that apply to the given phase, in
// catalogue order. Completed experiments stay relevant: they assign their
// winner as the default.
func (e *Experimenter) Relevant(phase conversation.Phase) []string {
	var ids []string
	for _, id := range e.order {
		def := e.exps[id].def
		if len(def.Phases) == 0 {
			ids = append(ids, id)
			continue
		}
		for _, p := range def.Phases {
			if p == phase {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// Assign resolves the session's variant for an experiment. A previously
// recorded assignment is returned as is; otherwise UCB1 picks an arm, the
// impression is counted, and the assignment is recorded on the session.
func (e *Experimenter) Assign(state *conversation.ConversationState, experimentID string, now time.Time) (string, error) {
	exp, ok := e.exps[experimentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownExperiment, experimentID)
	}
	if variant, ok := state.ExperimentsAssigned[experimentID]; ok {
		return variant, nil
	}

	exp.mu.Lock()
	var variant string
	if exp.status == StatusCompleted {
		variant = exp.winner
	} else {
		variant = exp.pickLocked()
		exp.arms[variant].Impressions++
		exp.updatedAt = now
		exp.dirty = true
	}
	exp.mu.Unlock()

	state.ExperimentsAssigned[experimentID] = variant
	return variant, nil
}

// Reward credits the session's assigned arm. A second reward for the same
// (session, experiment) is dropped silently.
func (e *Experimenter) Reward(state *conversation.ConversationState, experimentID string, reward float64, now time.Time) error {
	exp, ok := e.exps[experimentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExperiment, experimentID)
	}
	variant, ok := state.ExperimentsAssigned[experimentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAssigned, experimentID)
	}
	if state.RewardsRecorded[experimentID] {
		return nil
	}
	state.RewardsRecorded[experimentID] = true

	exp.mu.Lock()
	defer exp.mu.Unlock()
	arm, ok := exp.arms[variant]
	if !ok {
		// Assignment from a catalogue revision that dropped the variant.
		return nil
	}
	arm.Rewards++
	arm.RewardSum += reward
	exp.updatedAt = now
	exp.dirty = true
	e.maybeCompleteLocked(exp, now)
	return nil
}

// RewardAll credits every experiment assigned to the session with the same
// reward, in deterministic order.
func (e *Experimenter) RewardAll(state *conversation.ConversationState, reward float64, now time.Time) error {
	ids := make([]string, 0, len(state.ExperimentsAssigned))
	for id := range state.ExperimentsAssigned {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := e.Reward(state, id, reward, now); err != nil && !errors.Is(err, ErrUnknownExperiment) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pickLocked runs UCB1 over the arms. Arms without impressions score
// infinity so every arm is explored first; ties resolve to the lowest
// variant id.
func (exp *experiment) pickLocked() string {
	var total int64
	for _, arm := range exp.arms {
		total += arm.Impressions
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, id := range exp.sortedIDs {
		arm := exp.arms[id]
		score := math.Inf(1)
		if arm.Impressions > 0 {
			score = arm.Mean() + math.Sqrt(2*math.Log(float64(total))/float64(arm.Impressions))
		}
		if score > bestScore {
			best, bestScore = id, score
		}
	}
	return best
}

// maybeCompleteLocked runs the auto-deploy win test once the experiment has
// enough impressions: a variant completes the experiment when it beats the
// control arm with a one-sided two-proportion z-test at the configured
// confidence level.
func (e *Experimenter) maybeCompleteLocked(exp *experiment, now time.Time) {
	if exp.status != StatusActive || !exp.def.AutoDeploy {
		return
	}
	var total int64
	for _, arm := range exp.arms {
		total += arm.Impressions
	}
	if exp.def.MinSampleSize <= 0 || total < int64(exp.def.MinSampleSize) {
		return
	}

	control, ok := exp.arms[exp.def.Control]
	if !ok || control.Impressions == 0 {
		return
	}
	alpha := 1 - exp.def.ConfidenceLevel
	controlRate := clamp01(control.Mean())

	winner := ""
	winnerP := math.Inf(1)
	for _, id := range exp.sortedIDs {
		if id == exp.def.Control {
			continue
		}
		arm := exp.arms[id]
		if arm.Impressions == 0 {
			continue
		}
		rate := clamp01(arm.Mean())
		if rate <= controlRate {
			continue
		}
		p := winPValue(rate, arm.Impressions, controlRate, control.Impressions)
		if p < alpha && p < winnerP {
			winner, winnerP = id, p
		}
	}
	if winner == "" {
		return
	}

	exp.status = StatusCompleted
	exp.winner = winner
	exp.updatedAt = now
	exp.dirty = true
	slog.Info("experiment completed, winner deployed as default",
		"experiment", exp.def.ID,
		"winner", winner,
		"p_value", winnerP,
		"impressions", total)
}

// winPValue is the one-sided p-value that the variant's reward rate exceeds
// the control's, under the pooled normal approximation.
func winPValue(variantRate float64, variantN int64, controlRate float64, controlN int64) float64 {
	n1, n2 := float64(variantN), float64(controlN)
	pooled := (variantRate*n1 + controlRate*n2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 1
	}
	z := (variantRate - controlRate) / se
	return 1 - distuv.UnitNormal.CDF(z)
}

// State returns the snapshot of one experiment.
func (e *Experimenter) State(experimentID string) (ExperimentState, bool) {
	exp, ok := e.exps[experimentID]
	if !ok {
		return ExperimentState{}, false
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	return exp.snapshotLocked(), true
}

// States returns every experiment snapshot in catalogue order.
func (e *Experimenter) States() []ExperimentState {
	states := make([]ExperimentState, 0, len(e.order))
	for _, id := range e.order {
		exp := e.exps[id]
		exp.mu.Lock()
		states = append(states, exp.snapshotLocked())
		exp.mu.Unlock()
	}
	return states
}

func (exp *experiment) snapshotLocked() ExperimentState {
	arms := make(map[string]Arm, len(exp.arms))
	for id, arm := range exp.arms {
		arms[id] = *arm
	}
	return ExperimentState{
		ExperimentID: exp.def.ID,
		Status:       exp.status,
		Winner:       exp.winner,
		Arms:         arms,
		UpdatedAt:    exp.updatedAt,
	}
}

// Flush persists every experiment mutated since the last flush. Failed
// writes re-mark the experiment dirty for the next cycle.
func (e *Experimenter) Flush(ctx context.Context) error {
	if e.docs == nil {
		return nil
	}

	type pending struct {
		exp  *experiment
		snap ExperimentState
	}
	var batch []pending
	for _, id := range e.order {
		exp := e.exps[id]
		exp.mu.Lock()
		if exp.dirty {
			exp.dirty = false
			batch = append(batch, pending{exp: exp, snap: exp.snapshotLocked()})
		}
		exp.mu.Unlock()
	}

	var errs []error
	for _, p := range batch {
		doc, err := json.Marshal(p.snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("bandit: marshal %s: %w", p.snap.ExperimentID, err))
			continue
		}
		err = e.execute(func() error {
			return e.docs.PutDoc(ctx, store.CollectionExperiments, p.snap.ExperimentID, doc)
		})
		if err != nil {
			p.exp.mu.Lock()
			p.exp.dirty = true
			p.exp.mu.Unlock()
			errs = append(errs, fmt.Errorf("bandit: persist %s: %w", p.snap.ExperimentID, err))
		}
	}
	return errors.Join(errs...)
}

// Restore loads persisted experiment state over the fresh counters. Snapshots
// for experiments or variants no longer in the catalogue are ignored.
func (e *Experimenter) Restore(ctx context.Context) error {
	if e.docs == nil {
		return nil
	}
	var docs map[string][]byte
	err := e.execute(func() error {
		var listErr error
		docs, listErr = e.docs.ListDocs(ctx, store.CollectionExperiments)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("bandit: restore: %w", err)
	}

	for id, doc := range docs {
		exp, ok := e.exps[id]
		if !ok {
			continue
		}
		var snap ExperimentState
		if err := json.Unmarshal(doc, &snap); err != nil {
			return fmt.Errorf("bandit: restore %s: %w", id, err)
		}

		exp.mu.Lock()
		if snap.Status == StatusCompleted {
			if _, ok := exp.arms[snap.Winner]; ok {
				exp.status = StatusCompleted
				exp.winner = snap.Winner
			}
		}
		for variantID, arm := range snap.Arms {
			if existing, ok := exp.arms[variantID]; ok {
				*existing = arm
			}
		}
		exp.updatedAt = snap.UpdatedAt
		exp.dirty = false
		exp.mu.Unlock()
	}
	return nil
}

func (e *Experimenter) execute(fn func() error) error {
	if e.breaker == nil {
		return fn()
	}
	return e.breaker.Execute(fn)
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
