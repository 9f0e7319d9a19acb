// Package config resolves and validates the server configuration.
//
// Configuration is assembled from three fragment sources with fixed
// precedence, lowest to highest: built-in defaults, the first config file
// found in a fixed search order, and a fixed table of environment-variable
// overrides. The merged fragment is validated against a field schema before
// the immutable Config value is constructed; an invalid merge never produces
// a Config.
package config

import "fmt"

// Config is the resolved, validated configuration. It is constructed once at
// startup (or wholesale on reload) and passed explicitly to every component
// that needs it; nothing mutates it afterwards.
type Config struct {
	Redis  RedisConfig  `json:"redis"`
	Memory MemoryConfig `json:"mem0"`
	Server ServerConfig `json:"server"`
}

// RedisConfig describes the backend connection.
type RedisConfig struct {
	URL            string `json:"url"`             // redis:// or rediss:// connection URL
	CollectionName string `json:"collection_name"` // namespace holding this server's records
	DB             int    `json:"db"`              // numeric database index, 0-15
}

// MemoryConfig is the configuration handed to the delegated memory library.
// The server validates its shape but does not interpret the tuning values.
type MemoryConfig struct {
	LLM         LLMSection         `json:"llm"`
	Embedder    EmbedderSection    `json:"embedder"`
	VectorStore VectorStoreSection `json:"vector_store"`
}

// LLMProvider enumerates the supported LLM providers. Provider names are a
// closed set so that an unknown provider is a validation failure, not a
// runtime lookup miss.
type LLMProvider string

const (
	LLMOllama    LLMProvider = "ollama"
	LLMOpenAI    LLMProvider = "openai"
	LLMAnthropic LLMProvider = "anthropic"
)

// EmbedderProvider enumerates the supported embedding providers.
type EmbedderProvider string

const (
	EmbedderOllama EmbedderProvider = "ollama"
	EmbedderOpenAI EmbedderProvider = "openai"
)

// VectorStoreProvider enumerates the supported vector stores.
type VectorStoreProvider string

const (
	VectorStoreRedis VectorStoreProvider = "redis"
)

// LLMSection selects an LLM provider and its tuning parameters.
type LLMSection struct {
	Provider LLMProvider `json:"provider"`
	Config   LLMParams   `json:"config"`
}

// LLMParams holds scalar tuning parameters forwarded to the provider.
type LLMParams struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	BaseURL     string  `json:"base_url,omitempty"`
}

// EmbedderSection selects an embedding provider and model.
type EmbedderSection struct {
	Provider EmbedderProvider `json:"provider"`
	Config   EmbedderParams   `json:"config"`
}

// EmbedderParams holds the embedder model selection.
type EmbedderParams struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
}

// VectorStoreSection selects the vector store and its dimensionality.
type VectorStoreSection struct {
	Provider VectorStoreProvider `json:"provider"`
	Config   VectorStoreParams   `json:"config"`
}

// VectorStoreParams holds the vector store collection settings.
type VectorStoreParams struct {
	CollectionName     string `json:"collection_name"`
	EmbeddingModelDims int    `json:"embedding_model_dims"`
}

// ServerConfig identifies the MCP server and its log level.
type ServerConfig struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	LogLevel string `json:"log_level"` // DEBUG, INFO, WARNING, ERROR, or CRITICAL
}

// ConfigError reports a single configuration violation: the dotted path of
// the offending field and the constraint it failed.
type ConfigError struct {
	Path       string      // dotted configuration path, e.g. "redis.db"
	Constraint string      // human-readable constraint description
	Got        interface{} // offending value, nil when the field is absent
}

// Error renders the violation as "path: constraint (got value)".
func (e *ConfigError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("config: %s: %s", e.Path, e.Constraint)
	}
	return fmt.Sprintf("config: %s: %s (got %v)", e.Path, e.Constraint, e.Got)
}
