package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/clawgate/internal/config"
)

// Runner is a ready inference backend. Complete generates text for a
// prompt; Close releases whatever the backend holds (child process,
// memory-mapped weights).
type Runner interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Close() error
}

// RunnerFactory builds and readies a runner for the configured model
// type. The context bounds the whole load, including any artifact
// download.
type RunnerFactory func(ctx context.Context, cfg *config.ModelConfig) (Runner, error)

func defaultFactory(ctx context.Context, cfg *config.ModelConfig) (Runner, error) {
	switch cfg.Type {
	case "llama-server":
		return newLlamaRunner(ctx, cfg)
	case "heuristic", "":
		return newHeuristicRunner(), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", cfg.Type)
	}
}

// heuristicRunner answers classification prompts from a rule table
// instead of a language model. It is the default backend: instant to
// load, deterministic, and good enough to gate the common commands.
type heuristicRunner struct{}

func newHeuristicRunner() *heuristicRunner { return &heuristicRunner{} }

func (r *heuristicRunner) Close() error { return nil }

func (r *heuristicRunner) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	command := commandFromPrompt(prompt)
	if label, ok := classifyCommand(command); ok {
		return label, nil
	}
	// No rule matched; hedge so the caller scores this lower.
	return "possibly CREATE", nil
}

// commandFromPrompt pulls the command out of the classification prompt.
// The prompt ends with "Command: <text>" followed by "Classification:";
// input without that marker is treated as a bare command.
func commandFromPrompt(prompt string) string {
	idx := strings.LastIndex(prompt, "Command:")
	if idx < 0 {
		return strings.TrimSpace(prompt)
	}
	rest := prompt[idx+len("Command:"):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

var heuristicRules = []struct {
	prefix string
	label  string
}{
	// Longest prefixes first so "git status" wins over "git".
	{"git branch -d", "DELETE"},
	{"git branch -D", "DELETE"},
	{"docker rm", "DELETE"},
	{"docker rmi", "DELETE"},
	{"docker ps", "READ"},
	{"docker logs", "READ"},
	{"docker images", "READ"},
	{"docker inspect", "READ"},
	{"docker run", "CREATE"},
	{"docker build", "CREATE"},
	{"docker stop", "UPDATE"},
	{"git status", "READ"},
	{"git log", "READ"},
	{"git diff", "READ"},
	{"git show", "READ"},
	{"git branch", "READ"},
	{"git remote -v", "READ"},
	{"git init", "CREATE"},
	{"git clone", "CREATE"},
	{"git add", "UPDATE"},
	{"git commit", "UPDATE"},
	{"git push", "UPDATE"},
	{"git pull", "UPDATE"},
	{"git checkout", "UPDATE"},
	{"git stash drop", "DELETE"},
	{"go vet", "READ"},
	{"go version", "READ"},
	{"go env", "READ"},
	{"go list", "READ"},
	{"go test", "READ"},
	{"go build", "CREATE"},
	{"go install", "CREATE"},
	{"go mod tidy", "UPDATE"},
	{"go clean", "DELETE"},
	{"npm ls", "READ"},
	{"npm install", "CREATE"},
	{"npm ci", "CREATE"},
	{"npm uninstall", "DELETE"},
	{"kubectl get", "READ"},
	{"kubectl describe", "READ"},
	{"kubectl delete", "DELETE"},
	{"kubectl apply", "UPDATE"},
	{"sed -i", "UPDATE"},
	{"ls", "READ"},
	{"cat", "READ"},
	{"head", "READ"},
	{"tail", "READ"},
	{"less", "READ"},
	{"pwd", "READ"},
	{"cd", "READ"},
	{"echo", "READ"},
	{"env", "READ"},
	{"printenv", "READ"},
	{"whoami", "READ"},
	{"id", "READ"},
	{"date", "READ"},
	{"uname", "READ"},
	{"ps", "READ"},
	{"top", "READ"},
	{"df", "READ"},
	{"du", "READ"},
	{"free", "READ"},
	{"uptime", "READ"},
	{"grep", "READ"},
	{"rg", "READ"},
	{"find", "READ"},
	{"which", "READ"},
	{"file", "READ"},
	{"stat", "READ"},
	{"wc", "READ"},
	{"diff", "READ"},
	{"curl", "READ"},
	{"wget", "CREATE"},
	{"ping", "READ"},
	{"rm", "DELETE"},
	{"rmdir", "DELETE"},
	{"unlink", "DELETE"},
	{"touch", "CREATE"},
	{"mkdir", "CREATE"},
	{"cp", "CREATE"},
	{"tar", "CREATE"},
	{"zip", "CREATE"},
	{"unzip", "CREATE"},
	{"make", "CREATE"},
	{"mv", "UPDATE"},
	{"chmod", "UPDATE"},
	{"chown", "UPDATE"},
	{"ln", "UPDATE"},
	{"kill", "UPDATE"},
	{"pkill", "UPDATE"},
	{"systemctl restart", "UPDATE"},
	{"systemctl status", "READ"},
}

var labelRank = map[string]int{"READ": 0, "UPDATE": 1, "CREATE": 2, "DELETE": 3}

// classifyCommand applies the rule table. Compound commands take the
// most severe classification across their segments; redirections turn
// otherwise-read commands into writes.
func classifyCommand(command string) (string, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", false
	}

	segments := splitSegments(command)
	best := ""
	matched := false
	for _, seg := range segments {
		label, ok := classifySegment(seg)
		if !ok {
			// Unknown segment in a compound: stay conservative.
			label = "CREATE"
		} else {
			matched = true
		}
		if best == "" || labelRank[label] > labelRank[best] {
			best = label
		}
	}
	if !matched {
		return "", false
	}
	return best, true
}

func classifySegment(seg string) (string, bool) {
	seg = strings.TrimSpace(seg)
	if seg == "" {
		return "", false
	}

	// Drop fd duplications (2>&1 and friends) so they do not read as
	// file redirections.
	clean := seg
	for _, dup := range []string{"2>&1", "1>&2", ">&2", ">&1"} {
		clean = strings.ReplaceAll(clean, dup, "")
	}
	if strings.Contains(clean, ">>") {
		return "UPDATE", true
	}
	if strings.Contains(clean, ">") {
		return "CREATE", true
	}
	if strings.HasPrefix(seg, "find") && strings.Contains(seg, "-delete") {
		return "DELETE", true
	}

	normalized := strings.Join(strings.Fields(seg), " ")
	for _, rule := range heuristicRules {
		if normalized == rule.prefix || strings.HasPrefix(normalized, rule.prefix+" ") {
			return rule.label, true
		}
	}
	return "", false
}

func splitSegments(command string) []string {
	fields := []string{command}
	for _, sep := range []string{"&&", "||", "|", ";"} {
		var next []string
		for _, f := range fields {
			next = append(next, strings.Split(f, sep)...)
		}
		fields = next
	}
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
