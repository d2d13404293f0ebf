package realtime

import (
	"fmt"

	"github.com/resolveit/platform/internal/shared/types"
)

// Event names as seen by clients
const (
	EventStatusUpdate = "statusUpdate"
	EventCaseUpdate   = "caseUpdate"
	EventNewCase      = "newCase"
	EventJoined       = "joinedCaseRoom"
	EventLeft         = "leftCaseRoom"
	EventError        = "error"
)

// Message is one server frame: {"event": ..., "data": ...}
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusUpdate is delivered to a case room when its status changes
type StatusUpdate struct {
	CaseID types.ID `json:"caseId"`
	Status string   `json:"status"`
}

// CaseNotice is delivered on the global channel
type CaseNotice struct {
	Message string `json:"message"`
	Case    any    `json:"case"`
}

// RoomKey derives the room name of a case. It is the only place the
// convention lives: the decimal case id.
func RoomKey(caseID types.ID) string {
	return caseID.String()
}

// NewStatusUpdate builds the room message for a status change
func NewStatusUpdate(caseID types.ID, status string) Message {
	return Message{Event: EventStatusUpdate, Data: StatusUpdate{CaseID: caseID, Status: status}}
}

// NewCaseUpdate builds the global message for a status change.
// override selects the wording used for manual admin updates.
func NewCaseUpdate(caseID types.ID, status string, override bool, c any) Message {
	text := fmt.Sprintf("Case #%s status updated to %s.", caseID, status)
	if override {
		text = fmt.Sprintf("Case #%s status manually updated to %s.", caseID, status)
	}
	return Message{Event: EventCaseUpdate, Data: CaseNotice{Message: text, Case: c}}
}

// NewCaseRegistered builds the global message for a new case
func NewCaseRegistered(caseID types.ID, c any) Message {
	return Message{
		Event: EventNewCase,
		Data:  CaseNotice{Message: fmt.Sprintf("New case #%s has been registered.", caseID), Case: c},
	}
}
