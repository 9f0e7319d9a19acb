package config

import "strings"

// fieldRule declares one required field: its dotted path, the constraint a
// value must satisfy, and the check itself. Rules are evaluated against the
// fully merged fragment, never against individual sources.
type fieldRule struct {
	path       string
	constraint string
	ok         func(v interface{}) bool
}

// schema returns the full field schema, in the order violations are reported.
func schema() []fieldRule {
	return []fieldRule{
		{"redis.url", "must be a URL starting with redis:// or rediss://", func(v interface{}) bool {
			s, ok := asString(v)
			return ok && (strings.HasPrefix(s, "redis://") || strings.HasPrefix(s, "rediss://"))
		}},
		{"redis.collection_name", "must be a non-empty string", nonEmptyString},
		{"redis.db", "must be an integer in [0, 15]", intInRange(0, 15)},

		{"mem0.llm.provider", "must be one of: ollama, openai, anthropic", oneOf("ollama", "openai", "anthropic")},
		{"mem0.llm.config.model", "must be a non-empty string", nonEmptyString},
		{"mem0.llm.config.temperature", "must be a number in [0, 1]", floatInRange(0, 1)},
		{"mem0.llm.config.max_tokens", "must be an integer >= 1", intAtLeast(1)},

		{"mem0.embedder.provider", "must be one of: ollama, openai", oneOf("ollama", "openai")},
		{"mem0.embedder.config.model", "must be a non-empty string", nonEmptyString},

		{"mem0.vector_store.provider", "must be: redis", oneOf("redis")},
		{"mem0.vector_store.config.collection_name", "must be a non-empty string", nonEmptyString},
		{"mem0.vector_store.config.embedding_model_dims", "must be an integer >= 1", intAtLeast(1)},

		{"server.name", "must be a non-empty string", nonEmptyString},
		{"server.version", "must be a non-empty string", nonEmptyString},
		{"server.log_level", "must be one of: DEBUG, INFO, WARNING, ERROR, CRITICAL", oneOf("DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL")},
	}
}

// asString accepts only genuine strings; numbers are never silently
// stringified.
func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt accepts Go ints and integral float64 values. JSON decodes every
// number as float64, so 768 arrives as 768.0 and must still count as an int.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// asFloat accepts any numeric value.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func nonEmptyString(v interface{}) bool {
	s, ok := asString(v)
	return ok && strings.TrimSpace(s) != ""
}

func oneOf(allowed ...string) func(interface{}) bool {
	return func(v interface{}) bool {
		s, ok := asString(v)
		if !ok {
			return false
		}
		for _, a := range allowed {
			if s == a {
				return true
			}
		}
		return false
	}
}

func intInRange(min, max int) func(interface{}) bool {
	return func(v interface{}) bool {
		n, ok := asInt(v)
		return ok && n >= min && n <= max
	}
}

func intAtLeast(min int) func(interface{}) bool {
	return func(v interface{}) bool {
		n, ok := asInt(v)
		return ok && n >= min
	}
}

func floatInRange(min, max float64) func(interface{}) bool {
	return func(v interface{}) bool {
		f, ok := asFloat(v)
		return ok && f >= min && f <= max
	}
}
