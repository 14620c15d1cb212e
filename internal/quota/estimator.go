package quota

// Token estimation defaults. Roughly four characters per token is a fair
// average across the supported providers; the floor keeps very short prompts
// from being under-counted once system prompt and response overhead are in
// play. This is a heuristic, not a tokenizer, and is only expected to land
// within about ±20% of provider-reported counts.
const (
	charsPerToken = 4
	minimumTokens = 100
)

// Estimator estimates token cost for a draft message ahead of the provider
// call.
type Estimator struct{}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns a conservative token estimate for text. Always positive:
// the empty string still costs the floor.
func (e *Estimator) Estimate(text string) int64 {
	tokens := int64((len(text) + charsPerToken - 1) / charsPerToken)
	if tokens < minimumTokens {
		return minimumTokens
	}
	return tokens
}
