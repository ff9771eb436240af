package catalog

// Template is a ready-made starting point for creating custom models.
type Template struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	SystemPrompt string          `json:"system_prompt"`
	Template     string          `json:"template"`
	Parameters   ModelParameters `json:"parameters"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// BuiltinTemplates returns the six bundled custom-model templates.
func BuiltinTemplates() []Template {
	return []Template{
		{
			ID:           "assistant",
			Name:         "General Assistant",
			Description:  "A helpful, harmless AI assistant for general tasks",
			SystemPrompt: "You are a helpful AI assistant. Answer questions accurately and concisely.",
			Template:     "### User:\n{{prompt}}\n\n### Assistant:\n",
			Parameters: ModelParameters{
				Temperature:   0.7,
				TopP:          0.95,
				TopK:          intPtr(40),
				RepeatPenalty: floatPtr(1.1),
				ContextLength: intPtr(2048),
				MaxTokens:     512,
				StopSequences: []string{"### User:"},
			},
		},
		{
			ID:           "coder",
			Name:         "Code Assistant",
			Description:  "Specialized for programming and code generation",
			SystemPrompt: "You are an expert programmer. Write clean, efficient, well-commented code. Explain your solutions when asked.",
			Template:     "### Task:\n{{prompt}}\n\n### Solution:\n```",
			Parameters: ModelParameters{
				Temperature:   0.2,
				TopP:          0.9,
				TopK:          intPtr(50),
				RepeatPenalty: floatPtr(1.05),
				ContextLength: intPtr(4096),
				MaxTokens:     1024,
				StopSequences: []string{"### Task:", "```\n\n"},
			},
		},
		{
			ID:           "writer",
			Name:         "Creative Writer",
			Description:  "For creative writing, stories, and content generation",
			SystemPrompt: "You are a creative writer with a vivid imagination. Write engaging, well-structured prose.",
			Template:     "Write the following:\n\n{{prompt}}\n\n---\n\n",
			Parameters: ModelParameters{
				Temperature:   0.9,
				TopP:          0.95,
				TopK:          intPtr(80),
				RepeatPenalty: floatPtr(1.15),
				ContextLength: intPtr(2048),
				MaxTokens:     1024,
				StopSequences: []string{"---"},
			},
		},
		{
			ID:           "analyst",
			Name:         "Data Analyst",
			Description:  "For data analysis, insights, and structured outputs",
			SystemPrompt: "You are a data analyst. Provide clear, accurate analysis with supporting reasoning.",
			Template:     "Analysis Request:\n{{prompt}}\n\nAnalysis:\n",
			Parameters: ModelParameters{
				Temperature:   0.3,
				TopP:          0.85,
				TopK:          intPtr(30),
				RepeatPenalty: floatPtr(1.0),
				ContextLength: intPtr(2048),
				MaxTokens:     768,
				StopSequences: []string{"Analysis Request:"},
			},
		},
		{
			ID:           "translator",
			Name:         "Translator",
			Description:  "For language translation tasks",
			SystemPrompt: "You are a professional translator. Provide accurate translations preserving the original meaning and tone.",
			Template:     "Translate the following:\n\n{{prompt}}\n\nTranslation:\n",
			Parameters: ModelParameters{
				Temperature:   0.1,
				TopP:          0.8,
				TopK:          intPtr(20),
				RepeatPenalty: floatPtr(1.0),
				ContextLength: intPtr(2048),
				MaxTokens:     512,
				StopSequences: []string{"Translate the following:"},
			},
		},
		{
			ID:           "chat",
			Name:         "Conversational Chat",
			Description:  "Natural conversation with friendly personality",
			SystemPrompt: "You are a friendly conversational AI. Be warm, engaging, and helpful while maintaining natural dialogue.",
			Template:     "Human: {{prompt}}\n\nAssistant: ",
			Parameters: ModelParameters{
				Temperature:   0.8,
				TopP:          0.95,
				TopK:          intPtr(50),
				RepeatPenalty: floatPtr(1.1),
				ContextLength: intPtr(2048),
				MaxTokens:     256,
				StopSequences: []string{"Human:"},
			},
		},
	}
}
