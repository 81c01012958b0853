package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/clawgate/internal/config"
)

const (
	llamaDefaultBinary = "llama-server"
	llamaHealthPoll    = 200 * time.Millisecond
	llamaMaxTokens     = 10
)

// llamaRunner drives a local llama.cpp-compatible server as a child
// process and classifies through its /completion endpoint.
type llamaRunner struct {
	cmd         *exec.Cmd
	base        string
	client      *http.Client
	temperature float64
}

func newLlamaRunner(ctx context.Context, cfg *config.ModelConfig) (Runner, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("llama-server backend is not supported on windows")
	}

	binary := cfg.ServerBinary
	if binary == "" {
		binary = llamaDefaultBinary
	}
	binPath, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("llama-server binary %q not found: %w", binary, err)
	}

	modelPath, err := ensureArtifact(ctx, cfg)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("pick port: %w", err)
	}

	cmd := exec.Command(binPath,
		"-m", modelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--ctx-size", "2048",
		"--log-disable",
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}

	r := &llamaRunner{
		cmd:         cmd,
		base:        fmt.Sprintf("http://127.0.0.1:%d", port),
		client:      &http.Client{},
		temperature: cfg.Temperature,
	}
	log.Printf("[model] llama-server pid %d serving %s on port %d", cmd.Process.Pid, cfg.Name, port)

	if err := waitHealthy(ctx, r.client, r.base); err != nil {
		r.Close()
		return nil, fmt.Errorf("llama-server not ready: %w", err)
	}
	return r, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

func waitHealthy(ctx context.Context, client *http.Client, base string) error {
	for {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/health", nil)
		if err != nil {
			cancel()
			return err
		}
		resp, err := client.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(llamaHealthPoll):
		}
	}
}

func (r *llamaRunner) Complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"prompt":      prompt,
		"n_predict":   llamaMaxTokens,
		"temperature": r.temperature,
		"stop":        []string{"\n"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/completion", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llama-server http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(decoded.Content), nil
}

func (r *llamaRunner) Close() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	if err := r.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill llama-server: %w", err)
	}
	r.cmd.Wait()
	return nil
}
