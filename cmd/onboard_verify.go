package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine/llmloop"
)

// llmVerifyError holds the result of an endpoint connectivity probe.
type llmVerifyError struct {
	fatal   bool // bad credentials
	message string
}

func (e *llmVerifyError) Error() string { return e.message }

var verifyClient = &http.Client{Timeout: 10 * time.Second}

// verifyLLM checks an entry's API key by POSTing an empty body to
// /chat/completions, which requires auth on every OpenAI-compatible server.
//
//	401/403  invalid key (fatal)
//	400/422  auth passed, body rejected
//	2xx      auth passed
//	other    warning only
func verifyLLM(llm config.LLMConfig) *llmVerifyError {
	base := strings.TrimSuffix(llm.BaseURL, "/")
	if base == "" {
		base = llmloop.DefaultAPIBase
	}

	req, err := http.NewRequest(http.MethodPost, base+"/chat/completions", strings.NewReader("{}"))
	if err != nil {
		return &llmVerifyError{message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if llm.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+llm.APIKey)
	}

	resp, err := verifyClient.Do(req)
	if err != nil {
		return &llmVerifyError{message: fmt.Sprintf("connectivity check failed (transient): %v", err)}
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &llmVerifyError{fatal: true, message: fmt.Sprintf("endpoint returned %d, invalid API key", code)}
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return nil
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return &llmVerifyError{message: fmt.Sprintf("endpoint returned %d (transient, continuing)", code)}
	default:
		return &llmVerifyError{message: fmt.Sprintf("endpoint returned %d (unexpected, continuing)", code)}
	}
}
