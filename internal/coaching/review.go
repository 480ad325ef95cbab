package coaching

import (
	"context"
	"fmt"

	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/reviewagent"
)

// ReviewInput configures one Review stage run. It is a thin pass-through
// to internal/reviewagent.Run; the pipeline-level addition is broadcasting
// the result on coaching:review_result, per §4.9 step 3.
type ReviewInput struct {
	Client      model.Client
	Resolver    model.Resolver
	Logger      model.CallLogger
	Hub         Broadcaster
	SessionID   uint64
	ModelTier   model.Tier
	ProjectDir  string
	Scope       reviewagent.Scope
	ScopeDetail string
	TaskContext string
}

// Review runs the Review Agent (§4.10) and broadcasts its result.
func Review(ctx context.Context, in ReviewInput) (reviewagent.ReviewResult, error) {
	result, err := reviewagent.Run(ctx, reviewagent.Request{
		Client:      in.Client,
		Resolver:    in.Resolver,
		Logger:      in.Logger,
		SessionID:   in.SessionID,
		ModelTier:   in.ModelTier,
		ProjectDir:  in.ProjectDir,
		Scope:       in.Scope,
		ScopeDetail: in.ScopeDetail,
		TaskContext: in.TaskContext,
	})
	if err != nil {
		return reviewagent.ReviewResult{}, fmt.Errorf("coaching: review: %w", err)
	}

	if in.Hub != nil {
		in.Hub.Broadcast("coaching:review_result", result)
	}
	return result, nil
}
