package experiment

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/environment"
	"github.com/boristopalov/slicewise/pkg/policy"
)

// EmptyTraceName labels the sentinel trace returned when no policy could be
// resolved; the UI renders it as a flat line.
const EmptyTraceName = "empty_trace"

// Trace is one policy's per-tick actions and rewards.
type Trace struct {
	Actions []int     `json:"actions"`
	Rewards []float64 `json:"rewards"`
}

// Stats summarizes one policy's run. MeanReward is the arithmetic mean of
// all collected rewards; FinalAvgReward is the cumulative mean at the last
// tick, computed incrementally so it is well-defined for partial runs.
type Stats struct {
	MeanReward     float64 `json:"mean_reward"`
	FinalAvgReward float64 `json:"final_avg_reward"`
}

// Result is the outcome of a batch run.
type Result struct {
	Env        environment.Info `json:"env"`
	Iterations int              `json:"iterations"`
	Traces     map[string]Trace `json:"traces"`
	Summary    map[string]Stats `json:"summary"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// NamedPolicy pairs a policy with its trace label. Policies run in slice
// order every tick; the order fixes which RNG draw of the shared environment
// each policy experiences, so it must be stable for determinism.
type NamedPolicy struct {
	Name   string
	Policy policy.Policy
}

// Resolver turns an uploaded algorithm id into a display name plus a
// decision function. Resolution failures are per-use; implementations must
// not cache loaded callables across requests.
type Resolver interface {
	Resolve(id string) (name string, fn policy.DecisionFunc, err error)
}

// Runner builds policy sets and replays environments against them.
type Runner struct {
	resolver Resolver
	logger   *slog.Logger
}

type RunnerOption func(*Runner)

// WithResolver enables externally uploaded algorithms.
func WithResolver(r Resolver) RunnerOption {
	return func(rn *Runner) { rn.resolver = r }
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(rn *Runner) { rn.logger = l }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildPolicies constructs the requested built-in and external policies, all
// seeded identically for reproducibility across repeated plot calls. Unknown
// keys and resolution failures become warnings, never aborts.
func (r *Runner) BuildPolicies(keys, customIDs []string, nActions int, seed *int64) ([]NamedPolicy, []string) {
	var policies []NamedPolicy
	var warnings []string

	for _, key := range keys {
		p, err := policy.New(key, nActions, seed)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unknown algorithm %q skipped", key))
			continue
		}
		policies = append(policies, NamedPolicy{Name: key, Policy: p})
	}

	for _, id := range customIDs {
		if r.resolver == nil {
			warnings = append(warnings, fmt.Sprintf("custom id %q not found", id))
			continue
		}
		name, fn, err := r.resolver.Resolve(id)
		switch {
		case errors.Is(err, core.ErrNotFound):
			warnings = append(warnings, fmt.Sprintf("custom id %q not found", id))
			continue
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("[custom:%s] load failed: %v", id, err))
			continue
		}
		policies = append(policies, NamedPolicy{
			Name:   "custom:" + name,
			Policy: policy.NewExternal(nActions, seed, fn),
		})
	}

	return policies, warnings
}

// Run replays the environment against every policy for the given horizon.
// Each tick, every policy performs one select → step → update cycle against
// the shared environment in slice order. A policy failure substitutes
// (action=0, reward=0) for that tick and the run continues; no policy may
// abort or block the others.
func (r *Runner) Run(env environment.Environment, policies []NamedPolicy, iterations int, warnings []string) Result {
	result := Result{
		Env:        env.Info(),
		Iterations: iterations,
		Traces:     make(map[string]Trace, len(policies)),
		Summary:    make(map[string]Stats, len(policies)),
		Warnings:   warnings,
	}

	if len(policies) == 0 {
		actions := make([]int, iterations)
		for i := range actions {
			actions[i] = i
		}
		result.Traces[EmptyTraceName] = Trace{Actions: actions, Rewards: make([]float64, iterations)}
		result.Summary[EmptyTraceName] = Stats{}
		return result
	}

	traces := make([]Trace, len(policies))
	for i := range traces {
		traces[i] = Trace{
			Actions: make([]int, 0, iterations),
			Rewards: make([]float64, 0, iterations),
		}
	}

	for t := 0; t < iterations; t++ {
		for i, np := range policies {
			action, err := np.Policy.SelectAction()
			var reward float64
			if err != nil {
				extErr := &core.ExternalCodeError{Name: np.Name, Err: err}
				r.logger.Warn("policy tick failed", "algo", np.Name, "t", t, "error", err)
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("[algo %s] t=%d error: %v", np.Name, t, extErr.Err))
				action, reward = 0, 0.0
			} else {
				reward = env.Step(action)
				np.Policy.Update(action, reward)
			}
			traces[i].Actions = append(traces[i].Actions, action)
			traces[i].Rewards = append(traces[i].Rewards, reward)
		}
	}

	for i, np := range policies {
		result.Traces[np.Name] = traces[i]
		result.Summary[np.Name] = summarize(traces[i].Rewards)
	}
	return result
}

func summarize(rewards []float64) Stats {
	if len(rewards) == 0 {
		return Stats{}
	}
	var cum, lastAvg float64
	for i, v := range rewards {
		cum += v
		lastAvg = cum / float64(i+1)
	}
	return Stats{
		MeanReward:     cum / float64(len(rewards)),
		FinalAvgReward: lastAvg,
	}
}
