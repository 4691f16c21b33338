package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Languages the execution service accepts.
var supportedLanguages = map[string]struct{}{
	"python3": {},
	"java":    {},
	"cpp":     {},
	"nodejs":  {},
	"c":       {},
	"ruby":    {},
	"go":      {},
	"scala":   {},
	"bash":    {},
	"sql":     {},
	"pascal":  {},
	"csharp":  {},
	"php":     {},
	"swift":   {},
	"rust":    {},
	"r":       {},
}

// IsSupported reports whether the language tag is in the fixed set.
func IsSupported(language string) bool {
	_, ok := supportedLanguages[language]
	return ok
}

// SupportedLanguages returns the accepted language tags.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(supportedLanguages))
	for lang := range supportedLanguages {
		langs = append(langs, lang)
	}
	return langs
}

type request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type response struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Result of one run. Either Output is set, or Error carries the
// compile/runtime failure reported by the service. A Result with a
// non-empty Error is still a successful dispatch.
type Result struct {
	Output string
	Error  string
}

// Dispatcher forwards run requests to the external execution service
// and relays the reply to the sole requester. It is stateless and
// never retries: one network failure surfaces as one error result.
type Dispatcher struct {
	endpoint string
	client   *http.Client
}

func NewDispatcher(endpoint string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Execute validates the request, forwards it, and maps the reply.
// Precondition failures (ErrEmptyCode, ErrUnsupportedLanguage) and
// transport failures (ErrServiceUnavailable) come back as errors;
// compile/runtime failures of the submitted program come back inside
// the Result.
func (d *Dispatcher) Execute(ctx context.Context, code, language string) (*Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	if !IsSupported(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	body, err := json.Marshal(request{Code: code, Language: language})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed reply: %v", ErrServiceUnavailable, err)
	}

	// Some services report failures with a non-2xx status, others
	// with an error field on 200. Both mean the program failed, not
	// the transport.
	if out.Error != "" {
		return &Result{Error: out.Error}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	return &Result{Output: out.Output}, nil
}

const maxResponseSize = 1024 * 1024
