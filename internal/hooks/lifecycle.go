package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// PayloadEnvVar carries the JSON payload to script hooks in addition to
// stdin, so shell one-liners can grab it without reading the pipe.
const PayloadEnvVar = "CLAWGATE_PAYLOAD"

// HookSpec declares a config-driven hook. Kind selects the callback
// style: "http" posts the payload JSON to URL, "script" runs Path with
// Args and the payload on stdin.
type HookSpec struct {
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	URL        string   `json:"url,omitempty"`
	Method     string   `json:"method,omitempty"`
	Path       string   `json:"path,omitempty"`
	Args       []string `json:"args,omitempty"`
	TimeoutMs  int      `json:"timeoutMs,omitempty"`
	MaxRetries int      `json:"maxRetries,omitempty"`
	Disabled   bool     `json:"disabled,omitempty"`
}

// BuildHooks compiles specs into hooks and registers them. Invalid
// specs fail fast so a bad config surfaces at startup, not at dispatch.
func BuildHooks(reg *Registry, specs []HookSpec) error {
	for i, spec := range specs {
		typ := HookType(spec.Type)
		if !typ.Valid() {
			return NewConfigError("hook %d (%s): unknown hook type %q", i, spec.Name, spec.Type)
		}
		hook, err := compileSpec(spec)
		if err != nil {
			return err
		}
		cfg := HookConfig{
			Timeout:    time.Duration(spec.TimeoutMs) * time.Millisecond,
			MaxRetries: spec.MaxRetries,
			Enabled:    !spec.Disabled,
		}
		if err := reg.Register(typ, hook, cfg); err != nil {
			return err
		}
	}
	return nil
}

func compileSpec(spec HookSpec) (Hook, error) {
	switch spec.Kind {
	case "http":
		u, err := url.Parse(spec.URL)
		if err != nil || u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
			return nil, NewConfigError("hook %q: invalid URL %q", spec.Name, spec.URL)
		}
		method := strings.ToUpper(spec.Method)
		if method == "" {
			method = http.MethodPost
		}
		return &httpHook{name: spec.Name, url: spec.URL, method: method, client: &http.Client{}}, nil
	case "script":
		if spec.Path == "" {
			return nil, NewConfigError("hook %q: script hook requires a path", spec.Name)
		}
		return &scriptHook{name: spec.Name, path: spec.Path, args: spec.Args}, nil
	default:
		return nil, NewConfigError("hook %q: unknown hook kind %q", spec.Name, spec.Kind)
	}
}

// httpHook delivers the payload to an HTTP endpoint. The invocation
// context carries the executor timeout, so the client itself sets none.
type httpHook struct {
	name   string
	url    string
	method string
	client *http.Client
}

func (h *httpHook) Name() string { return h.name }

func (h *httpHook) Handle(ctx context.Context, payload *HookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal hook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver hook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hook endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// scriptHook runs an external program with the payload JSON on stdin
// and in PayloadEnvVar. A non-zero exit fails the attempt with the
// stderr tail attached.
type scriptHook struct {
	name string
	path string
	args []string
}

func (s *scriptHook) Name() string { return s.name }

func (s *scriptHook) Handle(ctx context.Context, payload *HookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal hook payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.path, s.args...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(os.Environ(), PayloadEnvVar+"="+string(body))
	cmd.WaitDelay = 2 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("hook script %s: %w: %s", s.path, err, tail(stderr.String(), 256))
	}
	return nil
}

// tail returns at most n trailing bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
