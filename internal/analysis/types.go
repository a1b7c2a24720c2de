package analysis

import (
	"strings"

	"github.com/kcons/kc/internal/categories"
)

// Analysis types, from most to least specific.
const (
	TypeBreakthrough = "Breakthrough Técnico"
	TypeEvolution    = "Evolução Conceitual"
	TypeDecisive     = "Momento Decisivo"
	TypeStrategic    = "Insight Estratégico"
	TypeLearning     = "Aprendizado Geral"
)

// Types lists every analysis type.
var Types = []string{TypeBreakthrough, TypeEvolution, TypeDecisive, TypeStrategic, TypeLearning}

// typeRules are checked in order; the first rule with a hit wins. Keywords
// are compared after accent folding.
var typeRules = []struct {
	typ      string
	keywords []string
}{
	{TypeBreakthrough, []string{"breakthrough", "solucao", "solution", "implementacao", "implemented", "arquitetura", "architecture", "otimizacao", "resolvido", "fixed"}},
	{TypeEvolution, []string{"evolucao", "evolution", "conceito", "concept", "perspectiva", "entendimento", "mudanca de visao", "reframe"}},
	{TypeDecisive, []string{"decisao", "decidimos", "decidi", "decision", "decided", "escolha", "escolhemos", "momento decisivo", "turning point"}},
	{TypeStrategic, []string{"estrategia", "estrategico", "strategy", "strategic", "insight", "oportunidade", "opportunity", "mercado", "market"}},
}

// DetectType picks an analysis type from keywords in text. Aprendizado Geral
// is the fallback.
func DetectType(text string) string {
	folded := categories.Normalize(text)
	for _, r := range typeRules {
		for _, k := range r.keywords {
			if strings.Contains(folded, k) {
				return r.typ
			}
		}
	}
	return TypeLearning
}

// CanonicalType maps a provider-supplied type onto a known one, tolerating
// case and accent differences. Unknown strings are detected from their text.
func CanonicalType(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	n := categories.Normalize(s)
	for _, t := range Types {
		if categories.Normalize(t) == n {
			return t
		}
	}
	return DetectType(s)
}
