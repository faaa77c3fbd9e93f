package classifier

import "regexp"

type vocabularyTerm struct {
	name    string
	pattern *regexp.Regexp
}

// categories are the catalog's top-level product families.
var categories = []vocabularyTerm{
	{name: "seladoras", pattern: regexp.MustCompile(`\bselador(a|as|es)?\b|\bseal(er|ers|ing machines?)\b`)},
	{name: "envasadoras", pattern: regexp.MustCompile(`\benvasador(a|as)?\b|\bfillers?\b|\bfilling machines?\b`)},
	{name: "empacotadoras", pattern: regexp.MustCompile(`\bempacotador(a|as)?\b|\bensacador(a|as)\b|\bpackaging machines?\b|\bbaggers?\b`)},
	{name: "rotuladoras", pattern: regexp.MustCompile(`\brotulador(a|as)?\b|\blabell?ers?\b`)},
	{name: "datadoras", pattern: regexp.MustCompile(`\bdatador(a|as)?\b|\bdate coders?\b`)},
	{name: "dosadoras", pattern: regexp.MustCompile(`\bdosador(a|as)?\b|\bdosers?\b`)},
	{name: "esteiras", pattern: regexp.MustCompile(`\besteiras?\b|\bconveyors?\b`)},
	{name: "termoformadoras", pattern: regexp.MustCompile(`\btermoformador(a|as)?\b|\bthermoform(er|ers|ing)\b`)},
}

// CategoryNames lists every known top-level category in catalog order.
func CategoryNames() []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.name
	}
	return names
}

type application struct {
	name    string
	pattern *regexp.Regexp
	queries []string
}

// applications map packaging materials and containers to the synonym
// queries used to widen a recommendation search.
var applications = []application{
	{
		name:    "sacos",
		pattern: regexp.MustCompile(`\bsac(o|os|he|hes|hinhos?)\b|\bbags?\b|\bpouch(es)?\b|\bfilmes?\b|\bfilms?\b`),
		queries: []string{
			"maquina para sacos",
			"empacotadora vertical para sacos",
			"seladora de sacos plasticos",
			"embalagem em filme",
		},
	},
	{
		name:    "garrafas",
		pattern: regexp.MustCompile(`\bgarrafas?\b|\bfrascos?\b|\bbottles?\b|\bjars?\b|\bpotes?\b`),
		queries: []string{
			"envasadora para garrafas",
			"rotuladora para frascos",
			"tampadora de garrafas",
			"envase de liquidos",
		},
	},
	{
		name:    "caixas",
		pattern: regexp.MustCompile(`\bcaixas?\b|\bboxe?s?\b|\bcartons?\b|\bpapelao\b`),
		queries: []string{
			"encaixotadora",
			"fechadora de caixas",
			"embalagem em caixas de papelao",
		},
	},
	{
		name:    "bandejas",
		pattern: regexp.MustCompile(`\bbandejas?\b|\btrays?\b|\bblisters?\b`),
		queries: []string{
			"termoformadora para bandejas",
			"seladora de bandejas",
			"embalagem blister",
		},
	},
	{
		name:    "latas",
		pattern: regexp.MustCompile(`\blatas?\b|\btins?\b`),
		queries: []string{
			"recravadeira de latas",
			"envase em latas",
		},
	},
}

var genericRecommendationQueries = []string{
	"linha de maquinas",
	"aplicacoes das maquinas",
	"maquina indicada para cada produto",
}

var genericAggregationQueries = []string{
	"catalogo de maquinas",
	"lista de equipamentos",
}

// DiversityTerms is the product vocabulary a recommendation pass searches so
// the answer can cite several distinct machines.
func DiversityTerms() []string {
	terms := []string{"maquina", "modelo", "equipamento"}
	for _, c := range categories {
		terms = append(terms, singular(c.name))
	}
	return terms
}

// singular drops the plural "s" used in category names ("seladoras" -> "seladora").
func singular(name string) string {
	if len(name) > 1 && name[len(name)-1] == 's' {
		return name[:len(name)-1]
	}
	return name
}
