package domain

import (
	"fmt"
	"sort"

	apperrors "github.com/resolveit/platform/internal/shared/errors"
)

// Event is something that happened to a case and may move its status
type Event string

const (
	EventOppositePartyNotified Event = "opposite_party_notified"
	EventOppositePartyAccepted Event = "opposite_party_accepted"
	EventOppositePartyRejected Event = "opposite_party_rejected"
	EventPanelAssembled        Event = "panel_assembled"
	EventMediationStarted      Event = "mediation_started"
	EventMediationResolved     Event = "mediation_resolved"
	EventMediationUnresolved   Event = "mediation_unresolved"
)

// Triggers recorded in status history that are not graph events
const (
	TriggerRegistered    = "registered"
	TriggerAdminOverride = "admin_override"
	TriggerStatusUpdate  = "status_update"
)

// transitions is the forward-only lifecycle graph. Admin overrides do not
// consult it.
var transitions = map[CaseStatus]map[Event]CaseStatus{
	CaseStatusRegistered: {
		EventOppositePartyNotified: CaseStatusAwaitingResponse,
		EventOppositePartyAccepted: CaseStatusAccepted,
		EventOppositePartyRejected: CaseStatusRejected,
	},
	CaseStatusAwaitingResponse: {
		EventOppositePartyAccepted: CaseStatusAccepted,
		EventOppositePartyRejected: CaseStatusRejected,
	},
	CaseStatusAccepted: {
		EventPanelAssembled: CaseStatusPanelCreated,
	},
	CaseStatusPanelCreated: {
		EventMediationStarted: CaseStatusMediationInProgress,
	},
	CaseStatusMediationInProgress: {
		EventMediationResolved:   CaseStatusResolved,
		EventMediationUnresolved: CaseStatusUnresolved,
	},
}

// NextStatus returns the status a case in from moves to when e happens
func NextStatus(from CaseStatus, e Event) (CaseStatus, error) {
	if to, ok := transitions[from][e]; ok {
		return to, nil
	}
	return "", apperrors.Validation(
		fmt.Sprintf("event %s is not allowed in status %s", e, from),
		map[string]string{"status": string(from), "event": string(e)},
	)
}

// AllowedEvents lists the events legal from a status, sorted by name
func AllowedEvents(from CaseStatus) []Event {
	events := make([]Event, 0, len(transitions[from]))
	for e := range transitions[from] {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// ResponseEvent maps the opposite party's answer to its event.
// Callers never pick the resulting status directly.
func ResponseEvent(agreed bool) Event {
	if agreed {
		return EventOppositePartyAccepted
	}
	return EventOppositePartyRejected
}

// ConclusionEvent maps the mediator's outcome to its event
func ConclusionEvent(resolved bool) Event {
	if resolved {
		return EventMediationResolved
	}
	return EventMediationUnresolved
}

// Bucket is a dashboard grouping of statuses
type Bucket string

const (
	BucketPending    Bucket = "pending"
	BucketInProgress Bucket = "inProgress"
	BucketResolved   Bucket = "resolved"
	BucketUnresolved Bucket = "unresolved"
)

// BucketOf maps each status to exactly one dashboard bucket
func BucketOf(s CaseStatus) Bucket {
	switch s {
	case CaseStatusRegistered, CaseStatusAwaitingResponse:
		return BucketPending
	case CaseStatusAccepted, CaseStatusPanelCreated, CaseStatusMediationInProgress:
		return BucketInProgress
	case CaseStatusResolved:
		return BucketResolved
	case CaseStatusUnresolved, CaseStatusRejected:
		return BucketUnresolved
	}
	return ""
}
