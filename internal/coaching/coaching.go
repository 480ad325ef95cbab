// Package coaching implements the Coaching Pipeline (§4.9 of the spec):
// four stages — Plan, Coach, Review, Reflect — each a pure function of its
// typed input plus a model.Client handle, grounded on the teacher's
// runtime/agent/planner + runtime/agent/engine split between "decide what
// to do" (the planner) and "drive stage transitions with progress events"
// (the engine), here collapsed into a handful of top-level functions since
// this module has no standalone workflow engine.
package coaching

// Broadcaster publishes pipeline progress and results to connected UI
// clients. Implemented by *uihub.Hub.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// planningPayload is the shared envelope for every planning:* broadcast.
type planningPayload struct {
	SessionID uint64 `json:"sessionId"`
	Phase     string `json:"phase,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Error     string `json:"error,omitempty"`
}

func broadcastPlanning(hub Broadcaster, msgType string, payload planningPayload) {
	if hub == nil {
		return
	}
	hub.Broadcast(msgType, payload)
}
