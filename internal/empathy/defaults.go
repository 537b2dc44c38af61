package empathy

// DefaultCatalogue returns the built-in Spanish catalogue used until a YAML
// catalogue is loaded. It is valid by construction and covers every category,
// price sub-category, and experiment variant of the default experiments.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Templates: []Template{
			// Greetings. Control register is time-of-day aware; variant
			// templates override the register regardless of the hour.
			{
				ID: "greeting_morning", Category: CategoryGreeting, TimeOfDay: "morning",
				Text: "¡Buenos días, {name}! Qué gusto saludarte. Soy Cierra, asesora del programa. ¿Cómo estás hoy?",
			},
			{
				ID: "greeting_afternoon", Category: CategoryGreeting, TimeOfDay: "afternoon",
				Text: "¡Buenas tardes, {name}! Qué gusto saludarte. Soy Cierra, asesora del programa. ¿Cómo va tu día?",
			},
			{
				ID: "greeting_evening", Category: CategoryGreeting, TimeOfDay: "evening",
				Text: "¡Buenas noches, {name}! Gracias por escribir a esta hora. Soy Cierra, asesora del programa. ¿Cómo estás?",
			},
			{
				ID: "greeting_casual", Category: CategoryGreeting, Variant: "casual_friendly",
				Text: "¡Hola, {name}! Qué bueno tenerte por aquí. Cuéntame, ¿qué te animó a buscar el curso?",
			},
			{
				ID: "greeting_formal", Category: CategoryGreeting, Variant: "formal_warm",
				Text: "Buen día, {name}. Es un gusto atenderle. Me encantaría conocer qué le gustaría lograr con el programa.",
			},

			// Empathy fragments by primary emotion, control register.
			{
				ID: "empathy_hesitant", Category: CategoryEmpathy, Emotion: "hesitant",
				Text: "Entiendo que quieras pensarlo bien, {name}; es una decisión importante y no hay prisa.",
			},
			{
				ID: "empathy_skeptical", Category: CategoryEmpathy, Emotion: "skeptical",
				Text: "Es muy válido dudar; te comparto resultados reales de alumnas para que lo veas con tus propios ojos.",
			},
			{
				ID: "empathy_tired", Category: CategoryEmpathy, Emotion: "tired",
				Text: "Se nota que vienes cargando mucho cansancio, y tiene sentido buscar un cambio que te dé aire.",
			},
			{
				ID: "empathy_overwhelmed", Category: CategoryEmpathy, Emotion: "overwhelmed",
				Text: "Vamos paso a paso, {name}; no tienes que resolver todo hoy.",
			},
			{
				ID: "empathy_fearful", Category: CategoryEmpathy, Emotion: "fearful",
				Text: "Es normal sentir miedo antes de invertir en ti; revisemos juntas qué te daría seguridad.",
			},
			{
				ID: "empathy_frustrated", Category: CategoryEmpathy, Emotion: "frustrated",
				Text: "Lamento que hayas pasado por intentos que no funcionaron; tu frustración es comprensible.",
			},
			{
				ID: "empathy_excited", Category: CategoryEmpathy, Emotion: "excited",
				Text: "¡Me encanta tu entusiasmo! Aprovechémoslo para ver el siguiente paso.",
			},
			{
				ID: "empathy_interested", Category: CategoryEmpathy, Emotion: "interested",
				Text: "Qué bueno que te interese; déjame contarte lo que más valoran las alumnas del programa.",
			},
			{
				ID: "empathy_hopeful", Category: CategoryEmpathy, Emotion: "hopeful",
				Text: "Esa ilusión por salir adelante es el mejor punto de partida, {name}.",
			},
			{
				ID: "empathy_generic", Category: CategoryEmpathy,
				Text: "Gracias por compartirlo conmigo; sigamos revisando lo que necesitas.",
			},
			{
				ID: "empathy_amplified", Category: CategoryEmpathy, Variant: "amplified",
				Text: "Te escucho, {name}, y quiero que sepas que lo que sientes es completamente comprensible.",
			},
			{
				ID: "empathy_restrained", Category: CategoryEmpathy, Variant: "restrained",
				Text: "Entiendo. Sigamos con lo que es importante para ti.",
			},

			// Price objections by sub-category, control register.
			{
				ID: "price_sticker", Category: CategoryPriceObjection, Subcategory: SubStickerShock,
				Text: "Entiendo que el precio te sorprenda, {name}; es una inversión seria y merece verse con calma.",
			},
			{
				ID: "price_budget", Category: CategoryPriceObjection, Subcategory: SubBudgetConstraint,
				Text: "Gracias por contarme tu situación; existen planes de pago que se ajustan a distintos presupuestos.",
			},
			{
				ID: "price_value", Category: CategoryPriceObjection, Subcategory: SubValueQuestioning,
				Text: "Con gusto te detallo todo lo que incluye, para que midas el valor completo de la inversión.",
			},
			{
				ID: "price_comparison", Category: CategoryPriceObjection, Subcategory: SubComparisonShopping,
				Text: "Comparar opciones habla muy bien de ti; déjame mostrarte lo que hace diferente a este programa.",
			},
			{
				ID: "price_fear", Category: CategoryPriceObjection, Subcategory: SubFinancialFear,
				Text: "Es comprensible el miedo a invertir; por eso existe la garantía y el acompañamiento de mentoras.",
			},
			{
				ID: "price_timing", Category: CategoryPriceObjection, Subcategory: SubTimingIssue,
				Text: "Si este mes está complicado, podemos ver fechas de inicio y apartar tu lugar para cuando te acomode.",
			},
			{
				ID: "price_spouse", Category: CategoryPriceObjection, Subcategory: SubSpouseApproval,
				Text: "Claro, consúltalo con calma; te preparo la información clave para que la platiquen juntos.",
			},
			{
				ID: "price_value_reframe", Category: CategoryPriceObjection, Variant: "value_reframe",
				Text: "Más que un gasto, míralo como inversión: piensa en cómo cambia tu ingreso al certificarte.",
			},
			{
				ID: "price_payment_first", Category: CategoryPriceObjection, Variant: "payment_plan_first",
				Text: "Antes de decidir, déjame contarte los planes a meses; muchas alumnas empiezan así sin presionar su gasto.",
			},
			{
				ID: "price_social_proof", Category: CategoryPriceObjection, Variant: "social_proof",
				Text: "Te comparto casos de alumnas que dudaron por el precio y hoy ya están generando ingresos con su certificación.",
			},

			// Closings.
			{
				ID: "closing_direct", Category: CategoryClosing,
				Text: "¿Te gustaría que dejemos lista hoy tu inscripción, {name}?",
			},
			{
				ID: "closing_assumptive", Category: CategoryClosing, Variant: "assumptive_close",
				Text: "Perfecto, {name}: el siguiente paso es elegir tu grupo; te mando las fechas disponibles.",
			},
			{
				ID: "closing_scarcity", Category: CategoryClosing, Variant: "scarcity_framing",
				Text: "El próximo grupo abre pronto y los lugares son limitados; puedo apartarte uno hoy mismo.",
			},
			{
				ID: "closing_soft", Category: CategoryClosing, Variant: "soft_summary",
				Text: "Resumiendo: horario flexible, certificación con validez y acompañamiento. Cuando tú digas, damos el paso.",
			},
		},

		ValidationPhrases: []string{
			"entiendo", "te entiendo", "comprendo", "es comprensible", "es normal",
			"tiene sentido", "es muy valido", "te escucho", "con razon",
			"imagino como te sientes", "gracias por contarme", "gracias por compartir",
		},

		FillerPhrases: []string{
			"como te mencione", "como te dije", "como te comente",
			"es una excelente pregunta", "dejame decirte", "una gran oportunidad",
			"no te vas a arrepentir", "creeme", "te lo aseguro", "la verdad es que",
		},

		Pronouns: []string{
			"tu", "te", "ti", "tus", "usted", "contigo", "tuyo", "tuya",
		},

		BannedWords: map[string]map[string]string{
			CategoryPriceObjection: {
				"nunca":  "pocas veces",
				"barato": "accesible",
			},
		},

		ForwardQuestions: map[string]string{
			"DISCOVERY": "¿Qué te gustaría lograr con el curso?",
			"ANALYSIS":  "¿Cómo se vería tu semana ideal si esto ya estuviera funcionando?",
			"FOCUSED":   "¿Qué parte del programa te llama más la atención?",
			"OBJECTION": "¿Qué necesitarías ver para sentirte con confianza?",
		},

		Canned: map[string]map[string]string{
			CannedPrice: {
				cannedDefaultKey: "Entiendo que el precio es una decisión importante. Tenemos opciones de pago a meses que lo hacen más accesible. ¿Te comparto las opciones?",
			},
			CannedProduct: {
				cannedDefaultKey: "El programa incluye clases en vivo, material grabado y acompañamiento de mentoras. ¿Qué parte te gustaría conocer más?",
			},
			CannedGeneral: {
				cannedDefaultKey: "Gracias por compartirlo. Estoy aquí para ayudarte a tomar la mejor decisión a tu ritmo. ¿Seguimos con tus dudas?",
				"CLOSING":        "Cuando te sientas lista, el siguiente paso es muy sencillo y te acompaño en todo el proceso.",
			},
		},
	}
}
