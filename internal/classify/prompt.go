package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const promptTemplate = `You are a shell command classifier. Classify the following command as exactly one of: READ, CREATE, UPDATE, or DELETE.

CLASSIFICATION RULES:

READ - Retrieves/displays data with NO side effects:
- File inspection: ls, cat, head, tail, find, grep, rg
- Process inspection: ps, top, htop
- Version control inspection: git status, git log, git diff, git show, git branch (list)
- Container inspection: docker ps, docker logs, docker images
- Build inspection: go list, go vet, go env, npm list, pip list
- Network inspection: curl (no -o), ping, dig, netstat
- Pipes to STDOUT: cmd | grep, cmd | sort, cmd | head
- Stderr to STDOUT: cmd 2>&1 | grep (still READ if no file creation)

CREATE - Makes new resources:
- File creation: touch, mkdir, echo > file
- Version control: git init, git commit, git push, git checkout -b
- Containers: docker build, docker run, docker create
- Build artifacts: go build, go install, npm install
- Network downloads: wget, curl -o file
- Redirects: cmd > file (overwrites), cmd 2> file

UPDATE - Modifies existing resources:
- File modification: echo >> file, sed -i, chmod, chown, mv
- Version control: git add, git commit --amend, git merge, git rebase
- Containers: docker stop, docker start, docker restart
- Code formatting: gofmt -w, npm run format
- Package updates: go get -u, npm update
- Appends: cmd >> file

DELETE - Removes resources:
- File/directory removal: rm, rmdir, rm -rf
- Version control: git clean, git branch -d, git reset --hard
- Containers: docker rm, docker rmi, docker prune
- Build cleanup: go clean, npm run clean
- Package removal: npm uninstall, pip uninstall

COMPLEX EXAMPLES:

Command: go mod graph
Classification: READ
Reason: Only displays the dependency graph to STDOUT

Command: cd /tmp && go list ./...
Classification: READ
Reason: cd doesn't persist; go list only reads

Command: docker logs app 2>&1 | grep ERROR
Classification: READ
Reason: Stderr redirect to stdout, then pipe - no file creation

Command: ls -la > files.txt
Classification: CREATE
Reason: Redirect creates/overwrites files.txt

Command: echo test >> log.txt
Classification: UPDATE
Reason: Append operator updates log.txt

Command: git status && git add .
Classification: UPDATE
Reason: git add stages changes (modifies index)

Command: npm install express
Classification: CREATE
Reason: Installs package, creates node_modules

Command: go build ./...
Classification: CREATE
Reason: Creates build artifacts

Command: gofmt -w .
Classification: UPDATE
Reason: Modifies source files in place

Command: curl -I https://example.com | grep HTTP
Classification: READ
Reason: Pipe to STDOUT only, no file creation

Command: find . -name "*.tmp" -delete
Classification: DELETE
Reason: -delete flag removes files

Now classify this command (respond with ONLY one word):
Command: %s
Classification:`

const correctionsFileName = "classifier-corrections.json"

// Correction is a user-recorded fix for a past misclassification,
// injected into the prompt as a few-shot example.
type Correction struct {
	Command    string  `json:"command"`
	Predicted  string  `json:"predicted"`
	Expected   string  `json:"expected"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

type correctionsFile struct {
	Corrections []Correction `json:"corrections"`
	Version     string       `json:"version,omitempty"`
	LastUpdated string       `json:"lastUpdated,omitempty"`
}

// loadCorrections reads ~/.clawgate/classifier-corrections.json. Read
// on every classification so edits apply without a restart; a missing
// or corrupt file yields none.
func loadCorrections() []Correction {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ".clawgate", correctionsFileName))
	if err != nil {
		return nil
	}
	var file correctionsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	return file.Corrections
}

// BuildPrompt renders the classification prompt for a command, with
// any user corrections prepended as few-shot examples.
func BuildPrompt(command string) string {
	var b strings.Builder
	if corrections := loadCorrections(); len(corrections) > 0 {
		b.WriteString("IMPORTANT: Learn from these user-corrected examples:\n\n")
		for _, c := range corrections {
			fmt.Fprintf(&b, "Command: %s\nWRONG: %s | CORRECT: %s\n\n", c.Command, c.Predicted, c.Expected)
		}
	}
	fmt.Fprintf(&b, promptTemplate, strings.TrimSpace(command))
	return b.String()
}

var answerPrefixes = []string{
	"Classification:",
	"Answer:",
	"Result:",
	"Type:",
	"CRUD:",
	"Operation:",
}

// extractLabel pulls the classification word out of a possibly verbose
// model response: first text after a known answer prefix, then any
// capitalized CRUD word, then the first word.
func extractLabel(response string) string {
	response = strings.TrimSpace(response)

	for _, prefix := range answerPrefixes {
		if idx := strings.Index(response, prefix); idx >= 0 {
			after := response[idx+len(prefix):]
			if fields := strings.Fields(after); len(fields) > 0 {
				return trimNonAlnum(fields[0])
			}
		}
	}

	for _, word := range strings.Fields(response) {
		cleaned := trimNonAlnum(word)
		if len(cleaned) < 4 {
			continue
		}
		first := []rune(cleaned)[0]
		if !unicode.IsUpper(first) {
			continue
		}
		switch strings.ToUpper(cleaned) {
		case "READ", "CREATE", "UPDATE", "DELETE":
			return cleaned
		}
	}

	if fields := strings.Fields(response); len(fields) > 0 {
		return trimNonAlnum(fields[0])
	}
	return trimNonAlnum(response)
}

func trimNonAlnum(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
