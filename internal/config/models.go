package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelsFile is the optional YAML ranking of LLM backends, highest preference first.
//
//	backends:
//	  - name: groq-70b
//	    url: https://api.groq.com/openai/v1/chat/completions
//	    token: ${GROQ_API_KEY}
//	    model: llama-3.1-70b-versatile
type ModelsFile struct {
	Backends []BackendConfig `yaml:"backends"`
}

// loadBackends returns the ranked backends from LLM_MODELS_FILE when set,
// otherwise one backend per LLM_MODELS entry sharing LLM_URL and LLM_TOKEN.
func loadBackends(cfg *LlmConfig) ([]BackendConfig, error) {
	if cfg.ModelsFile != "" {
		return LoadModelsFile(cfg.ModelsFile, cfg.URL, cfg.Token)
	}

	backends := make([]BackendConfig, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		backends = append(backends, BackendConfig{
			Name:  m,
			URL:   cfg.URL,
			Token: cfg.Token,
			Model: m,
		})
	}
	return backends, nil
}

// LoadModelsFile reads a ranked backend list. Missing url/token fall back to
// the given defaults; ${VAR} references are expanded from the environment.
func LoadModelsFile(path, defaultURL, defaultToken string) ([]BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %s: %w", path, err)
	}

	var mf ModelsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &mf); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(mf.Backends))
	out := make([]BackendConfig, 0, len(mf.Backends))
	for i, b := range mf.Backends {
		b.Model = strings.TrimSpace(b.Model)
		if b.Model == "" {
			return nil, fmt.Errorf("models file %s: backend #%d has no model", path, i+1)
		}
		if b.Name == "" {
			b.Name = b.Model
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("models file %s: duplicate backend name %q", path, b.Name)
		}
		seen[b.Name] = true
		if b.URL == "" {
			b.URL = defaultURL
		}
		if b.Token == "" {
			b.Token = defaultToken
		}
		out = append(out, b)
	}
	return out, nil
}
