// Package dispatcher resolves a canonical model id to a provider and
// its configured engine, and maintains the model catalog each HTTP
// surface projects for its /models route.
package dispatcher

// ModelDescriptor is one catalog entry: a provider-local model id plus
// the metadata the HTTP surface's /models projections need, mirroring
// xrouter-core's ModelDescriptor field for field.
type ModelDescriptor struct {
	Provider                 string
	ID                       string
	Description              string
	ContextLength            uint32
	Tokenizer                string
	InstructType             string
	Modality                 string
	TopProviderContextLength uint32
	IsModerated              bool
	MaxCompletionTokens      uint32
}

// SyntheticID is the "<provider>/<id>" form clients may address a
// model by explicitly.
func (d ModelDescriptor) SyntheticID() string {
	return d.Provider + "/" + d.ID
}

// seedCatalog is the built-in descriptor list, ported field-for-field
// from default_model_catalog(). Discovery merges or intersects
// against this list; it is never empty even when every discovery call
// fails.
func seedCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{
			Provider: "openrouter", ID: "gpt-4.1-mini",
			Description: "OpenRouter default chat model",
			ContextLength: 128000, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 128000, IsModerated: true, MaxCompletionTokens: 16384,
		},
		{
			Provider: "openrouter", ID: "anthropic/claude-3.5-sonnet",
			Description: "Anthropic Claude 3.5 Sonnet via OpenRouter",
			ContextLength: 200000, Tokenizer: "anthropic", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 200000, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "deepseek", ID: "deepseek-chat",
			Description: "DeepSeek Chat is a general-purpose model tuned for fast conversational responses, coding assistance, and routine multi-turn tasks.",
			ContextLength: 128000, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 128000, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "deepseek", ID: "deepseek-reasoner",
			Description: "DeepSeek Reasoner is optimized for step-by-step reasoning on complex math, logic, and long multi-stage problem solving.",
			ContextLength: 128000, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 128000, IsModerated: true, MaxCompletionTokens: 64000,
		},
		{
			Provider: "gigachat", ID: "GigaChat-2-Max",
			Description: "GigaChat 2 Max",
			ContextLength: 32768, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 32768, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "yandex", ID: "yandexgpt/latest",
			Description: "YandexGPT Pro 5 (latest branch): general-purpose Yandex model for complex generation tasks such as RAG, document analysis, reporting, and structured information extraction.",
			ContextLength: 32768, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 32768, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "yandex", ID: "yandexgpt/rc",
			Description: "YandexGPT Pro 5.1 (RC branch): release-candidate branch with improved function calling and structured output support before rollout to latest.",
			ContextLength: 32768, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 32768, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "yandex", ID: "yandexgpt-lite/latest",
			Description: "YandexGPT Lite 5 (latest branch): smallest and fastest Yandex text model, optimized for low-latency tasks like classification, formatting, and summarization.",
			ContextLength: 32768, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 32768, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "yandex", ID: "aliceai-llm/latest",
			Description: "Alice AI LLM (latest branch): Yandex flagship conversational model, strong on complex tasks and noticeably better for multi-turn chat and assistant scenarios.",
			ContextLength: 32768, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 32768, IsModerated: true, MaxCompletionTokens: 8192,
		},
		{
			Provider: "ollama", ID: "llama3.1:8b",
			Description: "Llama 3.1 8B via Ollama",
			ContextLength: 8192, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 8192, IsModerated: true, MaxCompletionTokens: 4096,
		},
		{
			Provider: "zai", ID: "glm-4.5",
			Description: "GLM-4.5 is Z.AI's flagship general model focused on strong coding, reasoning, and long-context agent workflows.",
			ContextLength: 128000, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 128000, IsModerated: true, MaxCompletionTokens: 98304,
		},
		{
			Provider: "xrouter", ID: "gpt-4.1-mini",
			Description: "XRouter GPT-4.1 mini",
			ContextLength: 128000, Tokenizer: "unknown", InstructType: "none", Modality: "text->text",
			TopProviderContextLength: 128000, IsModerated: true, MaxCompletionTokens: 16384,
		},
	}
}

// DefaultOpenRouterSupportedModels is the allowlist discovery results
// are intersected against when no configured allowlist is present,
// ported from original_source/xrouter-app/src/config.rs's
// DEFAULT_OPENROUTER_SUPPORTED_MODELS.
var DefaultOpenRouterSupportedModels = []string{
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-3-opus",
	"openai/gpt-4o",
	"openai/gpt-4-turbo",
	"deepseek/deepseek-chat",
	"qwen/qwen-2.5-72b-instruct",
	"meta-llama/llama-3.1-405b-instruct",
}

// DefaultGigachatSupportedModels mirrors
// DEFAULT_GIGACHAT_SUPPORTED_MODELS.
var DefaultGigachatSupportedModels = []string{
	"GigaChat",
	"GigaChat-Pro",
	"GigaChat-Max",
}
