// Package impact scores a candidate modification's blast radius: which
// system areas it touches and how risky it is, independent of any rule
// verdict. Deterministic and side-effect free.
package impact

import (
	"fmt"

	"github.com/katbot/modgate/core/rules"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Level buckets the numeric score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

const (
	scoreCap          = 100
	codeLengthDivisor = 200
	codeLengthCap     = 30
	complexityWeight  = 5
	complexityCap     = 25
	coreWeight        = 20
	storageWeight     = 15
	networkWeight     = 10

	complexityRiskThreshold = 10
	codeSizeRiskThreshold   = 5000
)

// RecommendMultipleReviews is the lead recommendation on critical and high
// impact changes; deployers key gating automation off it.
const RecommendMultipleReviews = "Require multiple code reviews"

// Assessment is the assessor's full output.
type Assessment struct {
	Level           Level    `json:"level"`
	Score           int      `json:"score"`
	AffectedAreas   []string `json:"affected_areas"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

// Assessor scores modifications. Zero value is usable.
type Assessor struct{}

func NewAssessor() *Assessor {
	return &Assessor{}
}

// Analyze scores the modification. Score is monotonic in code length,
// complexity, and the affects-* flags, and always clamped to [0,100].
func (a *Assessor) Analyze(ctx schemamod.ModificationContext) Assessment {
	complexity := ctx.Complexity
	if complexity <= 0 {
		complexity = rules.EstimateComplexity(ctx.Code)
	}
	codeLength := len(ctx.Code)

	score := minInt(codeLength/codeLengthDivisor, codeLengthCap)
	score += minInt(complexity*complexityWeight, complexityCap)
	if ctx.AffectsCore {
		score += coreWeight
	}
	if ctx.AffectsDatabase {
		score += storageWeight
	}
	if ctx.AffectsNetwork {
		score += networkWeight
	}
	if score > scoreCap {
		score = scoreCap
	}
	if score < 0 {
		score = 0
	}

	assessment := Assessment{
		Score:         score,
		Level:         levelFor(score),
		AffectedAreas: affectedAreas(ctx),
		Risks:         risks(ctx, complexity, codeLength),
	}
	assessment.Recommendations = recommendations(assessment.Level, ctx)
	return assessment
}

func levelFor(score int) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func affectedAreas(ctx schemamod.ModificationContext) []string {
	var areas []string
	if ctx.AffectsCore {
		areas = append(areas, "core_system")
	}
	if ctx.AffectsDatabase {
		areas = append(areas, "storage")
	}
	if ctx.AffectsNetwork {
		areas = append(areas, "network")
	}
	if ctx.AffectsUI {
		areas = append(areas, "user_interface")
	}
	if len(areas) == 0 {
		areas = append(areas, "isolated")
	}
	return areas
}

func risks(ctx schemamod.ModificationContext, complexity, codeLength int) []string {
	var out []string
	if ctx.AffectsCore {
		out = append(out, "a core-system regression can take the agent offline")
	}
	if ctx.AffectsDatabase {
		out = append(out, "storage changes risk corrupting persisted state")
	}
	if ctx.AffectsNetwork {
		out = append(out, "network changes can leak data to external endpoints")
	}
	if complexity > complexityRiskThreshold {
		out = append(out, fmt.Sprintf("complexity %d exceeds the reviewable threshold %d", complexity, complexityRiskThreshold))
	}
	if codeLength > codeSizeRiskThreshold {
		out = append(out, fmt.Sprintf("change size %d bytes is hard to review atomically", codeLength))
	}
	return out
}

func recommendations(level Level, ctx schemamod.ModificationContext) []string {
	var out []string
	switch level {
	case LevelCritical, LevelHigh:
		out = append(out,
			RecommendMultipleReviews,
			"Add comprehensive tests before applying",
			"Roll out gradually with monitoring",
		)
	case LevelMedium:
		out = append(out,
			"Request one code review",
			"Add targeted tests for the changed paths",
		)
	default:
		out = append(out, "Automated validation is sufficient")
	}
	if ctx.AffectsDatabase {
		out = append(out, "Back up affected data stores before applying")
	}
	if ctx.AffectsCore {
		out = append(out, "Prepare a rollback plan before applying")
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
