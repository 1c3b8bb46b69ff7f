package rules

import (
	"fmt"
	"regexp"
	"strings"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Builtin pre-modification rule names. Stable identifiers: callers toggle and
// deployers filter on them.
const (
	RuleNoSystemCalls       = "no-system-calls"
	RuleNoNetworkAccess     = "no-network-access"
	RuleNoFilesystemAccess  = "no-filesystem-access"
	RuleNoEval              = "no-eval-or-function-constructor"
	RuleNoInfiniteLoops     = "no-infinite-loops"
	RuleMemoryFootprint     = "memory-footprint"
	RuleCodeSize            = "code-size"
	RuleCodeComplexity      = "code-complexity"
	RuleSecurityPatterns    = "security-pattern-scan"
	RuleDependencyFreshness = "dependency-freshness"
	RulePerformancePatterns = "performance-anti-pattern-scan"
	RuleInputSanitization   = "input-sanitization"
	RuleOutputEncoding      = "output-encoding"
)

type patternMatch struct {
	pattern string
	hint    string
}

var systemCallPatterns = []patternMatch{
	{"child_process", "spawning child processes from generated code is forbidden"},
	{"execsync", "synchronous shell execution detected"},
	{"exec(", "shell or process execution detected"},
	{"spawn(", "process spawning detected"},
	{"os.system", "shell execution detected"},
	{"subprocess.", "subprocess invocation detected"},
	{"syscall.", "direct syscall usage detected"},
}

var networkPatterns = []patternMatch{
	{"fetch(", "outbound HTTP call detected"},
	{"xmlhttprequest", "outbound HTTP call detected"},
	{"http.request", "outbound HTTP call detected"},
	{"http.get", "outbound HTTP call detected"},
	{"axios.", "outbound HTTP call detected"},
	{"net.dial", "raw socket dial detected"},
	{"new websocket", "websocket connection detected"},
	{"net.createconnection", "raw socket connection detected"},
}

var filesystemPatterns = []patternMatch{
	{"fs.writefile", "filesystem write detected"},
	{"fs.readfile", "filesystem read detected"},
	{"fs.unlink", "file deletion detected"},
	{"fs.rmdir", "directory removal detected"},
	{"os.remove", "file deletion detected"},
	{"os.open", "filesystem access detected"},
	{"ioutil.", "filesystem access detected"},
	{"writefilesync", "synchronous filesystem write detected"},
}

var dynamicEvalPatterns = []patternMatch{
	{"eval(", "dynamic evaluation detected"},
	{"new function", "function constructor detected"},
	{"settimeout(\"", "string-argument timer detected"},
	{"setinterval(\"", "string-argument timer detected"},
	{"vm.runinnewcontext", "vm escape vector detected"},
}

var securityPatterns = []patternMatch{
	{"password =", "hardcoded credential"},
	{"password=", "hardcoded credential"},
	{"api_key", "hardcoded API key reference"},
	{"apikey =", "hardcoded API key reference"},
	{"secret =", "hardcoded secret"},
	{"private_key", "embedded private key reference"},
	{"document.write", "DOM injection vector"},
	{".innerhtml", "DOM injection vector"},
	{"select * from", "raw SQL in generated code"},
	{"drop table", "destructive SQL in generated code"},
}

var performancePatterns = []patternMatch{
	{"readfilesync", "synchronous I/O blocks the event loop"},
	{"sleep(", "busy wait in generated code"},
	{"json.parse(json.stringify", "deep clone via serialization"},
	{"+= \"", "string concatenation in a loop is quadratic"},
}

var (
	infiniteLoopHead  = regexp.MustCompile(`while\s*\(\s*(true|1)\s*\)|for\s*\(\s*;\s*;\s*\)`)
	largeAllocation   = regexp.MustCompile(`new\s+Array\s*\(\s*\d{7,}|Buffer\.alloc\s*\(\s*\d{8,}|make\(\[\]byte,\s*\d{8,}`)
	externalInputRefs = regexp.MustCompile(`(?i)req\.(body|query|params)|process\.argv|message\.content|stdin|user_input|userinput`)
	htmlOutputRefs    = regexp.MustCompile(`(?i)\.innerhtml|document\.write|res\.send\(|response\.write\(`)
	sanitizerRefs     = regexp.MustCompile(`(?i)sanitize|validate|escape|clean`)
	encoderRefs       = regexp.MustCompile(`(?i)encode|escape|sanitizehtml|textcontent`)
	deprecatedDeps    = map[string]string{
		"request":     "unmaintained since 2020",
		"left-pad":    "superseded by String.prototype.padStart",
		"node-uuid":   "renamed to uuid",
		"querystring": "deprecated node builtin",
	}
)

func pass(message string) schemamod.RuleResult {
	return schemamod.RuleResult{Passed: true, Message: message}
}

func fail(message, detail string, suggestions ...string) schemamod.RuleResult {
	return schemamod.RuleResult{Passed: false, Message: message, Detail: detail, Suggestions: suggestions}
}

func scanPatterns(code string, patterns []patternMatch) (string, string, bool) {
	lowered := strings.ToLower(code)
	for _, p := range patterns {
		if idx := strings.Index(lowered, p.pattern); idx >= 0 {
			return p.pattern, p.hint, true
		}
	}
	return "", "", false
}

func patternRule(name string, severity schemamod.Severity, patterns []patternMatch, failMessage, passMessage, suggestion string) Rule {
	return New(name, schemamod.StagePreModification, severity, func(in Input) schemamod.RuleResult {
		if pattern, hint, found := scanPatterns(in.Modification.Code, patterns); found {
			return fail(failMessage, fmt.Sprintf("matched %q: %s", pattern, hint), suggestion)
		}
		return pass(passMessage)
	})
}

// BuiltinPreRules returns the standard pre-modification rule set in its
// canonical order.
func BuiltinPreRules(limits Limits) []Rule {
	return []Rule{
		patternRule(RuleNoSystemCalls, schemamod.SeverityCritical, systemCallPatterns,
			"code contains system call patterns", "no system call patterns found",
			"remove process execution; the gate cannot trial-run code that shells out"),
		patternRule(RuleNoNetworkAccess, schemamod.SeverityHigh, networkPatterns,
			"code contains network access patterns", "no network access patterns found",
			"route external calls through the approved client layer"),
		patternRule(RuleNoFilesystemAccess, schemamod.SeverityHigh, filesystemPatterns,
			"code contains filesystem access patterns", "no filesystem access patterns found",
			"persist state through the storage collaborator instead of raw file I/O"),
		patternRule(RuleNoEval, schemamod.SeverityCritical, dynamicEvalPatterns,
			"code contains dynamic evaluation", "no dynamic evaluation found",
			"generate the logic directly instead of evaluating strings at runtime"),
		New(RuleNoInfiniteLoops, schemamod.StagePreModification, schemamod.SeverityHigh, func(in Input) schemamod.RuleResult {
			lowered := strings.ToLower(in.Modification.Code)
			if infiniteLoopHead.MatchString(lowered) && !strings.Contains(lowered, "break") {
				return fail("unbounded loop without a break",
					"loop head always evaluates true and the body never breaks",
					"add an explicit termination condition or iteration cap")
			}
			return pass("no unbounded loops found")
		}),
		New(RuleMemoryFootprint, schemamod.StagePreModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			if match := largeAllocation.FindString(in.Modification.Code); match != "" {
				return fail("large upfront allocation",
					fmt.Sprintf("matched %q", match),
					"stream or chunk the data instead of one allocation")
			}
			return pass("no oversized allocations found")
		}),
		New(RuleCodeSize, schemamod.StagePreModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			size := len(in.Modification.Code)
			if size > limits.MaxCodeSize {
				return fail("modification exceeds size limit",
					fmt.Sprintf("%d bytes > limit %d", size, limits.MaxCodeSize),
					"split the change into smaller reviewable modifications")
			}
			return pass(fmt.Sprintf("code size %d within limit %d", size, limits.MaxCodeSize))
		}),
		New(RuleCodeComplexity, schemamod.StagePreModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			complexity := in.Modification.Complexity
			if complexity <= 0 {
				complexity = EstimateComplexity(in.Modification.Code)
			}
			if complexity > limits.MaxComplexity {
				return fail("cyclomatic complexity above threshold",
					fmt.Sprintf("estimated complexity %d > limit %d (token-count proxy)", complexity, limits.MaxComplexity),
					"extract branches into smaller functions")
			}
			return pass(fmt.Sprintf("estimated complexity %d within limit %d", complexity, limits.MaxComplexity))
		}),
		patternRule(RuleSecurityPatterns, schemamod.SeverityCritical, securityPatterns,
			"code matches a known insecure pattern", "no insecure patterns found",
			"move secrets to configuration and parameterize queries"),
		New(RuleDependencyFreshness, schemamod.StagePreModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			if limits.AllowDeprecated {
				return pass("deprecated dependencies are permitted by policy")
			}
			var stale []string
			for _, dep := range in.Modification.Dependencies {
				name := strings.ToLower(strings.TrimSpace(dep.Name))
				if reason, deprecated := deprecatedDeps[name]; deprecated {
					stale = append(stale, fmt.Sprintf("%s (%s)", dep.Name, reason))
					continue
				}
				if strings.TrimSpace(dep.Version) == "" {
					stale = append(stale, fmt.Sprintf("%s (unpinned version)", dep.Name))
				}
			}
			if len(stale) > 0 {
				return fail("stale or unpinned dependencies declared",
					strings.Join(stale, "; "),
					"pin every dependency to a maintained release")
			}
			return pass("declared dependencies are pinned and maintained")
		}),
		patternRule(RulePerformancePatterns, schemamod.SeverityLow, performancePatterns,
			"code matches a performance anti-pattern", "no performance anti-patterns found",
			"replace the flagged construct with its non-blocking equivalent"),
		New(RuleInputSanitization, schemamod.StagePreModification, schemamod.SeverityMedium, func(in Input) schemamod.RuleResult {
			code := in.Modification.Code
			if externalInputRefs.MatchString(code) && !sanitizerRefs.MatchString(code) {
				return fail("external input consumed without sanitization",
					"code references request or user input but no sanitize/validate/escape call",
					"validate and sanitize external input before use")
			}
			return pass("input handling looks sanitized or absent")
		}),
		New(RuleOutputEncoding, schemamod.StagePreModification, schemamod.SeverityLow, func(in Input) schemamod.RuleResult {
			code := in.Modification.Code
			if htmlOutputRefs.MatchString(code) && !encoderRefs.MatchString(code) {
				return fail("output written without encoding",
					"code writes markup or responses but never encodes",
					"encode dynamic values before rendering them")
			}
			return pass("output encoding looks present or not applicable")
		}),
	}
}
