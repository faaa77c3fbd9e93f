package classifier

import (
	"regexp"
	"strings"
)

// rule is one entry of the ordered decision list; the first match decides the type.
type rule struct {
	name    string
	pattern *regexp.Regexp
	result  QueryType
}

// greetingPattern only matches a message that is nothing but a salutation.
// A greeting decides the type outright and skips retrieval, so "Bom dia,
// quantas seladoras vocês têm?" must fall through to the other rules; a
// leading salutation on a real question is ignored.
var greetingPattern = regexp.MustCompile(
	`^(oi+|ola|ole|hello|hi|hey|bom dia|boa tarde|boa noite|good (morning|afternoon|evening)|e ai|opa|salve)` +
		`([\s,!.?]+(tudo bem|tudo bom|como vai|pessoal|a todos|there|everyone|all))*[\s,!.?]*$`)

// Recommendation sits ahead of aggregation and exploratory because
// "qual a melhor maquina para ..." also reads as an exploratory question.
var typeRules = []rule{
	{
		name: "recommendation",
		pattern: regexp.MustCompile(
			`\bqual (a |o )?(melhor )?(maquina|equipamento|modelo|produto)s?\b.*\b(para|pra|devo|usar|indicad\w*|recomend\w*|ideal|serve)\b` +
				`|\b(recomend|indic)(a|ar|e|aria|acao|am)\b.*\b(maquina|equipamento|modelo)` +
				`|\bmelhor (maquina|equipamento|modelo) (para|pra)\b` +
				`|\bwhich (machine|model|equipment|product)s?\b.*\b(should|for|use|best)\b` +
				`|\b(recommend|suggest)\w*\b.*\b(machine|model|equipment)`),
		result: TypeRecommendation,
	},
	{
		name: "aggregation",
		pattern: regexp.MustCompile(
			`\b(quantos|quantas|how many|total de|total of|list all|lista completa|listar? tod[oa]s|liste tod[oa]s|todos os modelos|todas as maquinas|quais sao tod[oa]s)\b`),
		result: TypeAggregation,
	},
	{
		name: "comparative",
		pattern: regexp.MustCompile(
			`\bcompar\w*|\bdiferencas? entre\b|\bdifferences? between\b|\bversus\b|\bvs\b|\bmelhor que\b|\bbetter than\b`),
		result: TypeComparative,
	},
	{
		name: "procedural",
		pattern: regexp.MustCompile(
			`\bcomo (operar|configurar|ajustar|instalar|usar|utilizar|limpar|trocar|calibrar|montar|ligar)\b` +
				`|\bhow (do i |to )(operate|configure|set up|setup|adjust|install|use|clean|replace|calibrate)\b` +
				`|\bpasso a passo\b|\bstep[- ]by[- ]step\b|\bprocedimento\b`),
		result: TypeProcedural,
	},
	{
		name: "exploratory",
		pattern: regexp.MustCompile(
			`\bo que (e|sao)\b|\bwhat (is|are)\b|\bexpliqu?e\b|\bexplain\b|\bfale sobre\b|\btell me about\b` +
				`|\bcomo funcionam?\b|\bhow does .+ work\b|\bpara que serve\b`),
		result: TypeExploratory,
	},
}

var countPattern = regexp.MustCompile(
	`\b(quantos|quantas|quantidade|how many|number of|numero de|total de|total of|count|contar|conte)\b`)

var subjectPattern = regexp.MustCompile(
	`^(?:.*?\b)?(?:o que (?:e|sao)|what (?:is|are)|expliqu?e|explain|fale sobre|tell me about|como funcionam?|para que serve)\s+` +
		`(?:(?:a|o|as|os|um|uma|the|an)\s+)?(.+?)[\s?.!]*$`)

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "ê", "e", "è", "e", "ë", "e",
	"í", "i", "î", "i", "ì", "i", "ï", "i",
	"ó", "o", "ô", "o", "õ", "o", "ò", "o", "ö", "o",
	"ú", "u", "û", "u", "ù", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

// normalize lowercases, folds accents and collapses whitespace.
func normalize(question string) string {
	folded := accentFolder.Replace(strings.ToLower(question))
	return strings.Join(strings.Fields(folded), " ")
}
