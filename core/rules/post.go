package rules

import (
	"fmt"
	"strings"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Builtin post-modification rule names.
const (
	RuleRuntimeBehavior       = "runtime-behavior"
	RuleResourceUsage         = "resource-usage"
	RuleErrorRate             = "error-rate"
	RulePerformanceRegression = "performance-regression"
	RuleBehavioralConsistency = "behavioral-consistency"
)

// BuiltinPostRules returns the standard post-modification rule set. These
// rules compare observed sandbox telemetry against declared baselines; a
// missing observation fails the runtime-behavior rule and passes the rest,
// so a skipped trial never fabricates regressions.
func BuiltinPostRules(limits Limits) []Rule {
	return []Rule{
		New(RuleRuntimeBehavior, schemamod.StagePostModification, schemamod.SeverityCritical, func(in Input) schemamod.RuleResult {
			obs := in.Runtime
			if obs == nil {
				return fail("no runtime observation available",
					"post-modification validation requires a sandbox trial",
					"run the change through the trial sandbox before post-validation")
			}
			if !obs.ExitedCleanly {
				return fail("trial execution did not exit cleanly",
					strings.Join(obs.RuntimeErrors, "; "),
					"inspect the sandbox error output before retrying")
			}
			if len(obs.RuntimeErrors) > 0 {
				return fail("trial execution reported runtime errors",
					strings.Join(obs.RuntimeErrors, "; "))
			}
			return pass("trial execution completed cleanly")
		}),
		New(RuleResourceUsage, schemamod.StagePostModification, schemamod.SeverityHigh, func(in Input) schemamod.RuleResult {
			obs := in.Runtime
			if obs == nil {
				return pass("no runtime observation; resource usage not comparable")
			}
			if limits.MaxMemoryBytes > 0 && obs.PeakMemoryBytes > limits.MaxMemoryBytes {
				return fail("trial exceeded the memory budget",
					fmt.Sprintf("peak %d bytes > limit %d", obs.PeakMemoryBytes, limits.MaxMemoryBytes),
					"reduce allocations or raise the budget deliberately")
			}
			if limits.MaxCPUPercent > 0 && obs.CPUPercent > limits.MaxCPUPercent {
				return fail("trial exceeded the CPU budget",
					fmt.Sprintf("observed %.1f%% > limit %.1f%%", obs.CPUPercent, limits.MaxCPUPercent))
			}
			return pass("resource usage within budget")
		}),
		New(RuleErrorRate, schemamod.StagePostModification, schemamod.SeverityCritical, func(in Input) schemamod.RuleResult {
			obs := in.Runtime
			if obs == nil {
				return pass("no runtime observation; error rate not comparable")
			}
			rate := obs.ErrorRate()
			if rate > limits.MaxErrorRate {
				return fail("observed error rate above threshold",
					fmt.Sprintf("%d/%d invocations failed (%.2f > %.2f)",
						obs.ErrorCount, obs.InvocationCount, rate, limits.MaxErrorRate),
					"the change regresses reliability; revert or fix before applying")
			}
			return pass(fmt.Sprintf("error rate %.2f within threshold %.2f", rate, limits.MaxErrorRate))
		}),
		New(RulePerformanceRegression, schemamod.StagePostModification, schemamod.SeverityHigh, func(in Input) schemamod.RuleResult {
			obs := in.Runtime
			if obs == nil || obs.BaselineLatencyMS <= 0 {
				return pass("no latency baseline; regression not comparable")
			}
			allowed := obs.BaselineLatencyMS * (1 + limits.MaxLatencyIncrease)
			if obs.LatencyMS > allowed {
				return fail("latency regressed beyond tolerance",
					fmt.Sprintf("observed %.2fms > allowed %.2fms (baseline %.2fms)",
						obs.LatencyMS, allowed, obs.BaselineLatencyMS))
			}
			return pass("latency within tolerance of baseline")
		}),
		New(RuleBehavioralConsistency, schemamod.StagePostModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			obs := in.Runtime
			if obs == nil || obs.BaselineDigest == "" || obs.BehaviorDigest == "" {
				return pass("no behavior baseline; consistency not comparable")
			}
			if obs.BehaviorDigest != obs.BaselineDigest {
				return fail("observable behavior diverged from baseline",
					fmt.Sprintf("behavior digest %s != baseline %s", obs.BehaviorDigest, obs.BaselineDigest),
					"confirm the divergence is intended and refresh the baseline")
			}
			return pass("behavior matches baseline")
		}),
	}
}
