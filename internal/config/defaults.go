package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// defaults returns the built-in configuration fragment. Every required field
// has a value here, so a process started with no config file and no
// environment overrides is fully configured.
func defaults() Fragment {
	return deepCopy(Fragment{
		"redis": map[string]interface{}{
			"url":             "redis://localhost:6379",
			"collection_name": "mcp_memories",
			"db":              0,
		},
		"mem0": map[string]interface{}{
			"llm": map[string]interface{}{
				"provider": "ollama",
				"config": map[string]interface{}{
					"model":       "llama3.2:3b",
					"temperature": 0.1,
					"max_tokens":  1000,
				},
			},
			"embedder": map[string]interface{}{
				"provider": "ollama",
				"config": map[string]interface{}{
					"model": "nomic-embed-text:latest",
				},
			},
			"vector_store": map[string]interface{}{
				"provider": "redis",
				"config": map[string]interface{}{
					"collection_name":      "mcp_memories",
					"embedding_model_dims": 768,
				},
			},
		},
		"server": map[string]interface{}{
			"name":      "memgate",
			"version":   "1.0.0",
			"log_level": "INFO",
		},
	})
}

// WriteSampleConfig writes the built-in defaults as a pretty-printed JSON
// config file. An existing file is left untouched unless force is set.
func WriteSampleConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
		}
	}

	data, err := json.MarshalIndent(defaults(), "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal sample config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: write sample config: %w", err)
	}
	return nil
}
