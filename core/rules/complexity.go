package rules

import "regexp"

// branchTokens matches the control-flow tokens the complexity proxy counts:
// conditionals, loop heads, switch cases, ternaries, and short-circuit
// operators.
var branchTokens = regexp.MustCompile(`\belse\s+if\b|\bif\b|\bfor\b|\bwhile\b|\bcase\b|\bcatch\b|&&|\|\||\?`)

// EstimateComplexity returns a cyclomatic-complexity estimate for opaque
// source text: 1 plus the count of branch tokens. This is a static proxy,
// not a control-flow-graph analysis; callers should treat it as an
// approximation, never a guarantee.
func EstimateComplexity(code string) int {
	if code == "" {
		return 1
	}
	return 1 + len(branchTokens.FindAllStringIndex(code, -1))
}
