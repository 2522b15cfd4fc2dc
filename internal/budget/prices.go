package budget

// Price is the cost in dollars per million units.
type Price struct {
	InputPerMillion  float64 `mapstructure:"input" yaml:"input"`
	OutputPerMillion float64 `mapstructure:"output" yaml:"output"`
}

// Cost prices a call.
func (p Price) Cost(inputUnits, outputUnits int) float64 {
	return (float64(inputUnits)*p.InputPerMillion + float64(outputUnits)*p.OutputPerMillion) / 1_000_000
}

// FallbackPrice applies to models missing from the table.
var FallbackPrice = Price{InputPerMillion: 15, OutputPerMillion: 75}

// DefaultPrices keys prices by model name or model name prefix.
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"claude-opus-4":     {InputPerMillion: 15, OutputPerMillion: 75},
		"claude-sonnet-4":   {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-3-7-sonnet": {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-3-5-haiku":  {InputPerMillion: 0.8, OutputPerMillion: 4},
		"claude-haiku-4":    {InputPerMillion: 1, OutputPerMillion: 5},
		"gpt-4o":            {InputPerMillion: 2.5, OutputPerMillion: 10},
		"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.6},
		"gemini":            {},
		"llama":             {},
	}
}
