package provider

import (
	"fmt"

	"marcus/internal/config"
)

// New builds the configured backend. Callers usually wrap the result
// with WithRetry.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Backend {
	case "in-memory", "":
		return NewInMemory(), nil
	case "planka":
		return NewPlanka(cfg.BaseURL, cfg.Token, cfg.BoardID, cfg.CallTimeout()), nil
	case "github":
		return NewGitHub(cfg.BaseURL, cfg.Token, cfg.BoardID, cfg.CallTimeout())
	case "linear":
		return NewLinear(cfg.BaseURL, cfg.Token, cfg.BoardID, cfg.CallTimeout()), nil
	}
	return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
}
