package emotion

// Base signal names. The vocabulary is closed but extensible through
// [WithVocabulary]; second-order signals are derived, never matched directly.
const (
	SignalHesitation    = "hesitation"
	SignalUrgency       = "urgency"
	SignalDoubt         = "doubt"
	SignalInterest      = "interest"
	SignalCommitment    = "commitment"
	SignalResistance    = "resistance"
	SignalOpenness      = "openness"
	SignalFatigue       = "fatigue"
	SignalHope          = "hope"
	SignalFear          = "fear"
	SignalFrustration   = "frustration"
	SignalExcitement    = "excitement"
	SignalOverwhelm     = "overwhelm"
	SignalTrustBuilding = "trust_building"
	SignalPriceConcern  = "price_concern"

	// Second-order signals.
	SignalBurnoutRisk = "burnout_risk"
	SignalReadyToBuy  = "ready_to_buy"
)

// baseSignals fixes the canonical evaluation order. Score ties resolve in
// favour of the earlier signal.
var baseSignals = []string{
	SignalHesitation,
	SignalUrgency,
	SignalDoubt,
	SignalInterest,
	SignalCommitment,
	SignalResistance,
	SignalOpenness,
	SignalFatigue,
	SignalHope,
	SignalFear,
	SignalFrustration,
	SignalExcitement,
	SignalOverwhelm,
	SignalTrustBuilding,
	SignalPriceConcern,
}

// signalEmotions maps the winning base signal to the primary_emotion label
// recorded in the emotional journey.
var signalEmotions = map[string]string{
	SignalHesitation:    "hesitant",
	SignalUrgency:       "anxious",
	SignalDoubt:         "skeptical",
	SignalInterest:      "interested",
	SignalCommitment:    "determined",
	SignalResistance:    "resistant",
	SignalOpenness:      "open",
	SignalFatigue:       "tired",
	SignalHope:          "hopeful",
	SignalFear:          "fearful",
	SignalFrustration:   "frustrated",
	SignalExcitement:    "excited",
	SignalOverwhelm:     "overwhelmed",
	SignalTrustBuilding: "trusting",
	SignalPriceConcern:  "worried",
}

// EmotionNeutral is recorded when no signal fires.
const EmotionNeutral = "neutral"

// defaultVocabularies holds the phrase lists matched against customer text.
// Spanish first (the primary market), with common English equivalents.
// Diacritics are irrelevant: the lexicon matcher folds them.
var defaultVocabularies = map[string][]string{
	SignalHesitation: {
		"no se", "no estoy seguro", "no estoy segura", "dejame pensarlo",
		"lo voy a pensar", "tengo que pensarlo", "tal vez", "quizas",
		"necesito tiempo", "despues te digo", "lo consulto",
		"not sure", "let me think",
	},
	SignalUrgency: {
		"urgente", "ya mismo", "ahora mismo", "hoy mismo", "de inmediato",
		"lo antes posible", "cuanto antes", "esta semana", "rapido",
		"urgent", "right away", "as soon as possible",
	},
	SignalDoubt: {
		"no creo", "lo dudo", "no me convence", "sera cierto",
		"de verdad funciona", "no estoy convencido", "no estoy convencida",
		"suena demasiado bueno", "desconfio", "es una estafa",
		"doubt", "too good to be true",
	},
	SignalInterest: {
		"me interesa", "interesante", "cuentame mas", "quiero saber",
		"como funciona", "que incluye", "me gustaria", "me llama la atencion",
		"suena bien", "tell me more", "interested",
	},
	SignalCommitment: {
		"quiero empezar", "vamos a hacerlo", "lo quiero", "donde firmo",
		"como me inscribo", "estoy listo", "estoy lista", "hagamoslo",
		"si quiero", "me apunto", "sign me up",
	},
	SignalResistance: {
		"no me interesa", "no gracias", "dejen de llamar", "no insistas",
		"ya dije que no", "no quiero", "dejame en paz",
		"not interested", "stop calling",
	},
	SignalOpenness: {
		"cuentame", "te escucho", "soy todo oidos", "dime", "explicame",
		"platicame", "a ver", "i'm listening", "open to it",
	},
	SignalFatigue: {
		"cansado", "cansada", "agotado", "agotada", "no puedo mas",
		"estoy harto", "estoy harta", "sin energia", "no duermo",
		"tired", "exhausted", "burned out",
	},
	SignalHope: {
		"espero", "ojala", "me encantaria", "ilusion", "por fin",
		"mejorar mi vida", "salir adelante", "un cambio", "seria un sueno",
		"hope", "hopefully",
	},
	SignalFear: {
		"miedo", "me da miedo", "me asusta", "riesgo", "y si no funciona",
		"no quiero perder", "me da pena", "inseguro", "insegura",
		"afraid", "scared", "what if",
	},
	SignalFrustration: {
		"frustrado", "frustrada", "molesto", "molesta", "no funciona",
		"siempre lo mismo", "ya intente", "nada me funciona", "estoy cansado de",
		"estoy cansada de", "frustrated", "annoying",
	},
	SignalExcitement: {
		"increible", "genial", "excelente", "me encanta", "perfecto",
		"maravilloso", "que emocion", "buenisimo", "wow",
		"amazing", "awesome",
	},
	SignalOverwhelm: {
		"abrumado", "abrumada", "demasiado", "es mucho", "muchas cosas",
		"saturado", "saturada", "no doy abasto", "no me alcanza el tiempo",
		"overwhelmed", "too much",
	},
	SignalTrustBuilding: {
		"confio", "confianza", "me da confianza", "te creo", "buena reputacion",
		"me recomendaron", "recomendado", "referencias", "testimonios",
		"trust", "reviews",
	},
	SignalPriceConcern: {
		"caro", "cara", "precio", "cuesta", "costoso", "presupuesto",
		"no puedo pagar", "no me alcanza", "descuento", "mensualidades",
		"a meses", "cuanto cuesta", "expensive", "afford",
	},
}

// Vocabulary returns the default phrase list for a base signal. The slice is
// a copy; callers may modify it freely. Used by the tier analyzer and the
// rule-based predictors so urgency and price detection stay consistent.
func Vocabulary(signal string) []string {
	return append([]string(nil), defaultVocabularies[signal]...)
}

// Signals returns the base signal names in canonical order. The slice is a
// copy; callers may modify it freely.
func Signals() []string {
	return append([]string(nil), baseSignals...)
}
