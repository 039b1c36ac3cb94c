// Package heuristic implements the zero-third-party-dependency fallback
// decisions behind every LLM-enhanced call site of spec §4.7: smart
// substitution query broadening, composite candidate ranking, and
// stock-prune decisions. These are the graceful-degradation target — every
// exported function here must be fully usable with llm.Port absent or
// unavailable.
package heuristic

import (
	"sort"
	"strings"

	"github.com/shopping-copilot/core/internal/schema"
)

// Composite ranking weights, fixed per spec §4.7.
const (
	WeightStoreBrand    = 0.35
	WeightUnitPrice     = 0.40
	WeightAbsolutePrice = 0.25
)

// highConsequenceKeywords flags item categories whose prune/substitution
// decisions must never be left to the LLM: a heuristic KEEP always wins
// for these, per spec §4.7's invariant.
var highConsequenceKeywords = []string{
	"bebé", "bebe", "baby", "fralda", "fraldas", "leite infantil",
	"medicamento", "medicamentos", "remédio", "remedio", "farmácia", "farmacia",
	"animal", "ração", "racao", "cão", "cao", "gato", "pet",
	"nutrição médica", "nutricao medica", "suplemento medicinal",
}

// IsHighConsequence reports whether an item name matches a category where
// heuristic KEEP must dominate any LLM refinement.
func IsHighConsequence(itemName string) bool {
	lower := strings.ToLower(itemName)
	for _, kw := range highConsequenceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SubstitutionQueries generates a primary search query plus up to 3
// progressively broader fallbacks from an unavailable item's name, per
// spec §4.7 use 1. Broadening drops the last word one at a time and never
// drops the first word, so a name of n words yields min(n-1, 3) fallbacks:
// two for a three-word name, one for a two-word name, none for a single
// word.
func SubstitutionQueries(itemName string) []string {
	trimmed := strings.TrimSpace(itemName)
	if trimmed == "" {
		return nil
	}
	tokens := strings.Fields(trimmed)
	queries := []string{trimmed}
	for len(tokens) > 1 && len(queries) < 4 {
		tokens = tokens[:len(tokens)-1]
		candidate := strings.Join(tokens, " ")
		if candidate == "" {
			break
		}
		queries = append(queries, candidate)
	}
	return queries
}

// CandidateScore is the per-candidate composite ranking input.
type CandidateScore struct {
	Item               schema.CartItem
	IsStoreBrand       bool
	ReferenceUnitPrice schema.Money
}

// score computes the fixed-weight composite score in [0, 1]. Store-brand is
// a flat bonus; unit-price and absolute-price contribute a proximity score
// against the reference item's unit price (closer is better in either
// direction; the proximity falls to 0 at a difference of the full reference
// price or more).
func score(c CandidateScore) float64 {
	storeBrand := 0.0
	if c.IsStoreBrand {
		storeBrand = 1.0
	}

	refCents := c.ReferenceUnitPrice.Cents()
	candidateCents := c.Item.UnitPrice.Cents()

	unitPriceScore := priceProximity(candidateCents, refCents)
	absolutePriceScore := priceProximity(c.Item.LineTotal().Cents(), refCents*int64(maxInt(c.Item.Quantity, 1)))

	return storeBrand*WeightStoreBrand + unitPriceScore*WeightUnitPrice + absolutePriceScore*WeightAbsolutePrice
}

func priceProximity(candidateCents, referenceCents int64) float64 {
	if referenceCents <= 0 {
		return 0
	}
	diff := candidateCents - referenceCents
	if diff < 0 {
		diff = -diff
	}
	proximity := 1.0 - float64(diff)/float64(referenceCents)
	if proximity < 0 {
		return 0
	}
	if proximity > 1 {
		return 1
	}
	return proximity
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RankCandidates scores and sorts substitute candidates for originalName by
// the fixed composite weights, descending. storeBrandProductIDs marks which
// candidate ProductIDs are the retailer's own store brand.
func RankCandidates(originalName string, referenceUnitPrice schema.Money, candidates []schema.CartItem, storeBrandProductIDs map[string]bool) []schema.SubstitutionProposal {
	proposals := make([]schema.SubstitutionProposal, 0, len(candidates))
	for _, candidate := range candidates {
		cs := CandidateScore{
			Item:               candidate,
			IsStoreBrand:       storeBrandProductIDs[candidate.ProductID],
			ReferenceUnitPrice: referenceUnitPrice,
		}
		proposals = append(proposals, schema.SubstitutionProposal{
			OriginalName: originalName,
			Candidate:    candidate,
			Score:        score(cs),
			Reason:       rankReason(cs),
		})
	}
	sort.SliceStable(proposals, func(i, j int) bool { return proposals[i].Score > proposals[j].Score })
	return proposals
}

func rankReason(c CandidateScore) string {
	var parts []string
	if c.IsStoreBrand {
		parts = append(parts, "store brand")
	}
	if c.ReferenceUnitPrice.Cents() > 0 {
		diff := c.Item.UnitPrice.Cents() - c.ReferenceUnitPrice.Cents()
		switch {
		case diff == 0:
			parts = append(parts, "same unit price")
		case diff < 0:
			parts = append(parts, "cheaper per unit")
		default:
			parts = append(parts, "pricier per unit")
		}
	}
	if len(parts) == 0 {
		return "heuristic composite ranking"
	}
	return strings.Join(parts, ", ")
}

// PruneStockDecision produces the heuristic {prune, confidence, reason}
// decision for an item the retailer reported unavailable with no
// substitute found, per spec §4.7 use 3. priorPurchaseCount is the number
// of times this item appeared in the user's recent order history (0 when
// history is sparse/unknown); a frequently-repurchased item is kept rather
// than pruned, since its absence is more likely a stock blip than an
// intentional drop.
func PruneStockDecision(item schema.CartItem, priorPurchaseCount int) schema.PruneDecision {
	if IsHighConsequence(item.Name) {
		return schema.PruneDecision{
			ItemName:   item.Name,
			Pruned:     false,
			Confidence: 1.0,
			Reason:     "high-consequence category: heuristic KEEP always dominates",
		}
	}
	switch {
	case priorPurchaseCount >= 3:
		return schema.PruneDecision{
			ItemName:   item.Name,
			Pruned:     false,
			Confidence: 0.6,
			Reason:     "frequently repurchased; likely a transient stock gap",
		}
	case priorPurchaseCount == 0:
		return schema.PruneDecision{
			ItemName:   item.Name,
			Pruned:     true,
			Confidence: 0.4,
			Reason:     "no purchase history; conservative default prune with low confidence",
		}
	default:
		return schema.PruneDecision{
			ItemName:   item.Name,
			Pruned:     false,
			Confidence: 0.5,
			Reason:     "occasional repurchase history; default to keep",
		}
	}
}
