package llm

// Complexity grades a query by how much reasoning it needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Model tiers. Cheap models answer lookups; the heavy model is reserved for
// multi-step analysis where its cost is justified.
const (
	ModelFast     = "gemini-2.0-flash-lite"
	ModelStandard = "gemini-2.0-flash"
	ModelHeavy    = "gemini-2.5-pro"
)

// Purpose-bound models independent of complexity.
const (
	ModelClassifier = ModelFast
	ModelSummarizer = ModelFast
	ModelRerank     = ModelFast
	ModelExtraction = ModelStandard
)

// RouteModel picks the model for a chat turn. Escalated turns (a specialist
// asked for more depth) bump one tier.
func RouteModel(complexity Complexity, escalated bool) string {
	model := ModelStandard
	switch complexity {
	case ComplexitySimple:
		model = ModelFast
	case ComplexityModerate:
		model = ModelStandard
	case ComplexityComplex:
		model = ModelHeavy
	}
	if escalated {
		switch model {
		case ModelFast:
			model = ModelStandard
		case ModelStandard:
			model = ModelHeavy
		}
	}
	return model
}

// CostPerMTok returns (input, output) USD per million tokens for cost
// accounting. Unknown models report zero so usage rows still land.
func CostPerMTok(model string) (float64, float64) {
	switch model {
	case ModelFast:
		return 0.075, 0.30
	case ModelStandard:
		return 0.10, 0.40
	case ModelHeavy:
		return 1.25, 10.00
	case "gemini-embedding-001":
		return 0.15, 0
	default:
		return 0, 0
	}
}
