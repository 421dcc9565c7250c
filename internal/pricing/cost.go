package pricing

// Cost is the dollar cost of one call
type Cost struct {
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	TotalCost  float64 `json:"totalCost"`
}

// CalculateCost prices token counts. Unknown pricing yields zero cost.
// Values are not rounded.
func CalculateCost(inputTokens, outputTokens int, p *ModelPricing) Cost {
	if p == nil {
		return Cost{}
	}
	in := float64(inputTokens) * p.Prompt
	out := float64(outputTokens) * p.Completion
	return Cost{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
	}
}
