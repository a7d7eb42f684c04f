package threeds

import "github.com/alovak/threeds-flow/threeds/models"

// Select picks the challenge flow for tx. Native is used only when the
// provider supports it, the brand may run natively, the transaction carries
// the 3DS server data the SDK needs, and no native attempt failed before.
func Select(tx *models.Transaction, p *Provider) models.FlowKind {
	switch {
	case tx.NativeFailed():
		return models.FlowWeb
	case !p.SupportsNativeThreeDS():
		return models.FlowWeb
	case p.IsWebOnlyBrand(tx.Params().Brand()):
		return models.FlowWeb
	case tx.ThreeDS.Empty():
		return models.FlowWeb
	}
	return models.FlowNative
}

// Fallback records a native failure and returns the web flow. It succeeds
// once per transaction; afterwards ErrFallbackExhausted is returned.
func Fallback(tx *models.Transaction) (models.FlowKind, error) {
	if !tx.MarkNativeFailed() {
		return "", ErrFallbackExhausted
	}
	return models.FlowWeb, nil
}
