package popup

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Pattern is one nuisance-overlay dismissal pattern, per spec §4.3. Patterns
// are data, not code: the built-in set below covers the spec's minimum, and
// an operator may extend it via a YAML pattern file.
type Pattern struct {
	Name               string `yaml:"name"`
	Selector           string `yaml:"selector"`
	TextMatch          string `yaml:"textMatch"`
	ExactMatch         bool   `yaml:"exactMatch"`
	Priority           int    `yaml:"priority"`
	SkipIfReorderModal bool   `yaml:"skipIfReorderModal"`
	Description        string `yaml:"description"`
}

// DefaultPatterns returns the minimum built-in pattern set described in
// spec §4.3, evaluated highest-priority first.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:               "cart-removal-cancel",
			Selector:           `[data-testid="cart-removal-cancel"], button.modal-cancel`,
			TextMatch:          "Cancelar",
			ExactMatch:         true,
			Priority:           100,
			SkipIfReorderModal: true,
			Description:        "Preserve the cart by declining a removal confirmation.",
		},
		{
			Name:               "notification-subscription-decline",
			Selector:           `[data-testid="notification-prompt-decline"], button.push-opt-out`,
			TextMatch:          "Não",
			ExactMatch:         false,
			Priority:           90,
			SkipIfReorderModal: true,
			Description:        "Decline the browser notification subscription prompt.",
		},
		{
			Name:               "cookie-consent-accept",
			Selector:           `[data-testid="cookie-consent-accept"], #onetrust-accept-btn-handler`,
			TextMatch:          "",
			ExactMatch:         false,
			Priority:           80,
			SkipIfReorderModal: false,
			Description:        "Accept the cookie consent banner unconditionally.",
		},
		{
			Name:               "modal-close-x",
			Selector:           `[aria-label="Close"], [aria-label="Fechar"], button.modal-close`,
			TextMatch:          "",
			ExactMatch:         false,
			Priority:           10,
			SkipIfReorderModal: true,
			Description:        "Dismiss a generic modal via its labeled close control.",
		},
	}
}

// forbiddenTextTokens, forbiddenClassTokens and forbiddenTargetTokens form
// the absolute safety gate of spec §4.3: a match carrying any of these
// tokens MUST NOT be clicked, regardless of which pattern matched it.
var (
	forbiddenTextTokens = []string{
		"Remover todos",
		"Remover todos os produtos",
		"Eliminar tudo",
		"Confirmar",
	}
	forbiddenClassTokens = []string{
		"auc-cart__remove-all",
		"remove-all-products",
	}
	forbiddenTargetTokens = []string{
		"remove-all",
		"clear-cart",
	}
)

// LoadPatternsFile reads an operator-supplied YAML pattern file and appends
// it to the built-in set; an absent file is not an error.
func LoadPatternsFile(path string) ([]Pattern, error) {
	base := DefaultPatterns()
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied configuration path
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, err
	}
	var extra []Pattern
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, err
	}
	return append(base, extra...), nil
}
