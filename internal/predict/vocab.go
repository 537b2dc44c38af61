package predict

import "github.com/cierra-ai/cierra/internal/emotion"

// objectionVocabularies maps each objection tag to the phrases the rule
// fallback (and the "objection:<tag>" feature atoms) match against recent
// user messages. Spanish first, with common English equivalents. Price
// phrases reuse the emotion price_concern vocabulary so both detectors agree.
var objectionVocabularies = map[string][]string{
	"price_too_high": emotion.Vocabulary(emotion.SignalPriceConcern),
	"no_time": {
		"no tengo tiempo", "sin tiempo", "falta de tiempo", "muy ocupada",
		"muy ocupado", "no me da tiempo", "trabajo todo el dia",
		"no time", "too busy",
	},
	"need_to_think": {
		"pensarlo", "lo voy a pensar", "dejame pensarlo", "necesito pensar",
		"lo pienso", "think about it", "let me think",
	},
	"spouse_consultation": {
		"mi esposo", "mi esposa", "mi pareja", "mi marido", "mi mujer",
		"consultarlo con", "preguntarle a mi", "my husband", "my wife",
	},
	"distrust": {
		"no confio", "sera cierto", "es confiable", "estafa", "fraude",
		"no les creo", "suena demasiado bueno", "scam", "is this real",
	},
	"not_interested": {
		"no me interesa", "no estoy interesada", "no estoy interesado",
		"no gracias", "dejen de llamar", "not interested",
	},
	"timing_not_right": {
		"mas adelante", "el proximo mes", "el otro mes", "en otro momento",
		"ahorita no", "mas tarde", "not right now", "maybe later",
	},
}

// needVocabularies maps each need tag to the phrases scanned over the whole
// transcript.
var needVocabularies = map[string][]string{
	"flexibility": {
		"horario", "horarios", "flexible", "flexibilidad", "a mi ritmo",
		"en mis tiempos", "desde casa", "en linea", "online", "my own pace",
	},
	"certification": {
		"certificado", "certificacion", "diploma", "titulo", "constancia",
		"aval", "certificate", "certification",
	},
	"career_change": {
		"cambiar de trabajo", "cambiar de carrera", "otro trabajo",
		"nueva carrera", "renunciar", "career change", "new job",
	},
	"income_increase": {
		"ganar mas", "mas dinero", "mejor sueldo", "mas ingresos",
		"ingreso extra", "earn more", "more money",
	},
	"personal_growth": {
		"superarme", "crecer", "aprender", "desarrollarme",
		"desarrollo personal", "mejorar", "grow", "learn",
	},
	"community_support": {
		"apoyo", "acompanamiento", "mentoria", "mentores", "comunidad",
		"no estar sola", "no estar solo", "support", "community",
	},
	"quick_results": {
		"resultados rapidos", "rapido", "pronto", "en cuanto tiempo",
		"que tan rapido", "cuanto tiempo", "fast results", "how long",
	},
}
