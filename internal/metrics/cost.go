package metrics

// Per-1K-token prices in USD. Unlisted models use the default row.
type modelPrice struct {
	input  float64
	output float64
	cached float64
}

var modelPrices = map[string]modelPrice{
	"claude-sonnet-4":  {input: 0.003, output: 0.015, cached: 0.0003},
	"claude-haiku-3.5": {input: 0.0008, output: 0.004, cached: 0.00008},
	"gpt-4o":           {input: 0.0025, output: 0.01, cached: 0.00125},
	"gpt-4o-mini":      {input: 0.00015, output: 0.0006, cached: 0.000075},
}

var defaultPrice = modelPrice{input: 0.003, output: 0.015, cached: 0.0003}

// CostUSD computes the monetary cost of one call. Cached tokens are billed
// at the cached rate instead of the input rate.
func CostUSD(model string, inputTokens, outputTokens, cachedTokens int) float64 {
	price, ok := modelPrices[model]
	if !ok {
		price = defaultPrice
	}
	billedInput := inputTokens - cachedTokens
	if billedInput < 0 {
		billedInput = 0
	}
	return float64(billedInput)/1000*price.input +
		float64(outputTokens)/1000*price.output +
		float64(cachedTokens)/1000*price.cached
}
