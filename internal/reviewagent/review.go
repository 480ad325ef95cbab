package reviewagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aaronbassett/paige/internal/model"
)

// Severity is the category of one review comment.
type Severity string

const (
	SeverityPraise     Severity = "praise"
	SeveritySuggestion Severity = "suggestion"
	SeverityIssue      Severity = "issue"
)

// CodeComment is one line-anchored review comment.
type CodeComment struct {
	FilePath  string   `json:"filePath"`
	StartLine int      `json:"startLine"`
	EndLine   int       `json:"endLine"`
	Comment   string   `json:"comment"`
	Severity  Severity `json:"severity"`
}

// TaskFeedback reports on one plan task's completion status.
type TaskFeedback struct {
	TaskTitle    string `json:"taskTitle"`
	Feedback     string `json:"feedback"`
	TaskComplete bool   `json:"taskComplete"`
}

// ReviewResult is the §3 data-model ReviewResult produced by a review run.
type ReviewResult struct {
	OverallFeedback string         `json:"overallFeedback"`
	CodeComments    []CodeComment  `json:"codeComments"`
	PhaseComplete   *bool          `json:"phaseComplete,omitempty"`
	TaskFeedback    []TaskFeedback `json:"taskFeedback,omitempty"`
}

// Scope bounds what the Review Agent considers, per the "Scope (review)"
// glossary entry.
type Scope string

const (
	ScopeCurrentFile  Scope = "current_file"
	ScopeOpenFiles    Scope = "open_files"
	ScopeCurrentTask  Scope = "current_task"
	ScopePhase        Scope = "phase"
)

// Request configures one Review Agent run.
type Request struct {
	Client       model.Client
	Resolver     model.Resolver
	Logger       model.CallLogger
	SessionID    uint64
	ModelTier    model.Tier
	ProjectDir   string
	Scope        Scope
	ScopeDetail  string // e.g. the current file path, or the task/phase title
	TaskContext  string // task/phase description fed into the prompt
}

const systemPrompt = `You are a code review assistant helping a developer working through a guided coding task.
You have read-only tools (read_file, git_diff, list_files) to inspect the project; you never write or edit code.
Review the relevant changes and respond with a JSON object matching this shape:
{"overallFeedback": string, "codeComments": [{"filePath": string, "startLine": int, "endLine": int, "comment": string, "severity": "praise"|"suggestion"|"issue"}], "phaseComplete": bool, "taskFeedback": [{"taskTitle": string, "feedback": string, "taskComplete": bool}]}
Wrap the JSON in a single ` + "```json" + ` fence. Only comment on code actually relevant to the current scope.`

// Run drives the bounded tool-use loop (§4.10) and parses its final
// response into a ReviewResult. If the response isn't valid JSON against
// the ReviewResult shape, Run falls back to
// {overallFeedback: rawText, codeComments: []} rather than failing the
// review outright.
func Run(ctx context.Context, req Request) (ReviewResult, error) {
	userMessage := fmt.Sprintf("Scope: %s (%s)\n\nContext:\n%s", req.Scope, req.ScopeDetail, req.TaskContext)

	text, err := RunLoop(ctx, LoopOptions{
		Client:       req.Client,
		Resolver:     req.Resolver,
		Logger:       req.Logger,
		SessionID:    req.SessionID,
		CallType:     "review_agent",
		ModelTier:    req.ModelTier,
		SystemPrompt: systemPrompt,
		UserMessage:  userMessage,
		Tools:        ReviewTools(req.ProjectDir),
	})
	if err != nil {
		return ReviewResult{}, err
	}

	return parseReviewResult(text), nil
}

// parseReviewResult strips a ```json fence if present and unmarshals into
// ReviewResult; on failure it falls back to a bare-feedback result rather
// than raising an error, per §4.10.
func parseReviewResult(text string) ReviewResult {
	stripped := stripJSONFence(text)

	var result ReviewResult
	if err := json.Unmarshal([]byte(stripped), &result); err == nil {
		return result
	}
	return ReviewResult{OverallFeedback: text, CodeComments: []CodeComment{}}
}

func stripJSONFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
