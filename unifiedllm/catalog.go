package unifiedllm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	Protocol          string   `json:"protocol"` // "anthropic" or "openai"
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         *int     `json:"max_output,omitempty"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsVision    bool     `json:"supports_vision"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// Models is the built-in model catalog, newest first per provider.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-6", Provider: "anthropic", Protocol: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: intPtr(32768),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", Protocol: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", Protocol: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		SupportsTools: true, SupportsVision: true,
		Aliases: []string{"haiku"},
	},

	// OpenAI
	{
		ID: "gpt-5.2", Provider: "openai", Protocol: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: intPtr(32768),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", Protocol: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		Aliases: []string{"gpt5-mini"},
	},

	// OpenAI-compatible vendors
	{
		ID: "deepseek-chat", Provider: "deepseek", Protocol: "openai", DisplayName: "DeepSeek Chat",
		ContextWindow: 128000, MaxOutput: intPtr(8192),
		SupportsTools: true,
	},
	{
		ID: "deepseek-reasoner", Provider: "deepseek", Protocol: "openai", DisplayName: "DeepSeek Reasoner",
		ContextWindow: 128000, MaxOutput: intPtr(32768),
		SupportsReasoning: true,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
// Matching is case-insensitive on ids and aliases.
func GetModelInfo(modelID string) *ModelInfo {
	if modelID == "" {
		return nil
	}
	for i := range Models {
		if strings.EqualFold(Models[i].ID, modelID) {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if strings.EqualFold(alias, modelID) {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModelID maps an alias to its canonical id. Unknown ids pass through.
func ResolveModelID(modelID string) string {
	if info := GetModelInfo(modelID); info != nil {
		return info.ID
	}
	return modelID
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (newest/best) model for a provider,
// optionally filtered by capability.
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "vision":
			if Models[i].SupportsVision {
				return &Models[i]
			}
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		case "reasoning":
			if Models[i].SupportsReasoning {
				return &Models[i]
			}
		}
	}
	return nil
}
