package coaching

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/reviewagent"
	"github.com/aaronbassett/paige/internal/session"
)

// planPhase is one of the four planning:phase_update phases, per §4.9.
type planPhase string

const (
	planPhaseFetching     planPhase = "fetching"
	planPhaseExploring    planPhase = "exploring"
	planPhasePlanning     planPhase = "planning"
	planPhaseWritingHints planPhase = "writing_hints"
)

// PlanInput configures one Plan stage run.
type PlanInput struct {
	Client      model.Client
	Resolver    model.Resolver
	Logger      model.CallLogger
	Hub         Broadcaster
	SessionID   uint64
	ProjectDir  string
	IssueTitle  string
	IssueBody   string
	ModelTier   model.Tier
}

// planResponse is the wire shape the model is asked to produce, matching
// §4.9's Plan stage output.
type planResponse struct {
	Title   string       `json:"title"`
	Summary string       `json:"summary"`
	Phases  []planPhaseResult `json:"phases"`
}

type planPhaseResult struct {
	Number      int            `json:"number"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Hint        string         `json:"hint"`
	Status      string         `json:"status"`
	Tasks       []planTaskResult `json:"tasks"`
}

type planTaskResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TargetFiles []string `json:"targetFiles"`
	Hints       struct {
		Low    string `json:"low"`
		Medium string `json:"medium"`
		High   string `json:"high"`
	} `json:"hints"`
}

const planSystemPrompt = `You are planning a guided coding session for a developer working on an issue.
You have read-only tools (list_files, read_file) to explore the project structure before planning.
Produce a plan broken into phases (Understand, Plan, Implement, Test, Review is a typical shape, but adapt to the issue).
Respond with a single JSON object (no markdown fence) matching this shape:
{"title": string, "summary": string, "phases": [{"number": int, "title": string, "description": string, "hint": string, "status": "pending", "tasks": [{"title": string, "description": string, "targetFiles": [string], "hints": {"low": string, "medium": string, "high": string}}]}]}
The first phase's status must be "active"; all others "pending". Hints should scaffold progressively: low is a nudge, medium narrows the approach, high is closer to a worked example without literal code.`

// Plan runs the tool-augmented multi-turn loop over the workspace (reusing
// the Review Agent's bounded-loop primitive with a read-only "explore" tool
// set) and produces a session.Plan, broadcasting
// planning:started -> planning:progress* -> planning:phase_update* ->
// planning:complete | planning:error along the way.
func Plan(ctx context.Context, in PlanInput) (session.Plan, error) {
	broadcastPlanning(in.Hub, "planning:started", planningPayload{SessionID: in.SessionID})

	emit := func(phase planPhase, progress int) {
		broadcastPlanning(in.Hub, "planning:phase_update", planningPayload{SessionID: in.SessionID, Phase: string(phase), Progress: progress})
	}

	emit(planPhaseFetching, 0)
	emit(planPhaseFetching, 100)
	emit(planPhaseExploring, 0)

	userMessage := fmt.Sprintf("Issue: %s\n\n%s", in.IssueTitle, in.IssueBody)

	text, err := reviewagent.RunLoop(ctx, reviewagent.LoopOptions{
		Client:       in.Client,
		Resolver:     in.Resolver,
		Logger:       in.Logger,
		SessionID:    in.SessionID,
		CallType:     "plan_agent",
		ModelTier:    in.ModelTier,
		SystemPrompt: planSystemPrompt,
		UserMessage:  userMessage,
		Tools:        reviewagent.ExploreTools(in.ProjectDir),
	})
	if err != nil {
		broadcastPlanning(in.Hub, "planning:error", planningPayload{SessionID: in.SessionID, Error: err.Error()})
		return session.Plan{}, fmt.Errorf("coaching: plan: %w", err)
	}
	emit(planPhaseExploring, 100)
	emit(planPhasePlanning, 0)

	var resp planResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		broadcastPlanning(in.Hub, "planning:error", planningPayload{SessionID: in.SessionID, Error: err.Error()})
		return session.Plan{}, fmt.Errorf("coaching: plan: parse response: %w", err)
	}
	emit(planPhasePlanning, 100)
	emit(planPhaseWritingHints, 0)

	plan := toSessionPlan(resp)
	emit(planPhaseWritingHints, 100)

	broadcastPlanning(in.Hub, "planning:complete", planningPayload{SessionID: in.SessionID})
	return plan, nil
}

func toSessionPlan(resp planResponse) session.Plan {
	phases := make([]session.Phase, 0, len(resp.Phases))
	for _, p := range resp.Phases {
		steps := make([]session.Step, 0, len(p.Tasks))
		for _, task := range p.Tasks {
			steps = append(steps, session.Step{
				Title:       task.Title,
				Description: task.Description,
				TargetFiles: task.TargetFiles,
				Hints: session.HintSet{
					Low:    task.Hints.Low,
					Medium: task.Hints.Medium,
					High:   task.Hints.High,
				},
			})
		}
		phases = append(phases, session.Phase{
			Number:      p.Number,
			Title:       p.Title,
			Description: p.Description,
			Hint:        p.Hint,
			Status:      session.PhaseStatus(p.Status),
			Steps:       steps,
		})
	}
	return session.Plan{Title: resp.Title, Summary: resp.Summary, Phases: phases}
}
