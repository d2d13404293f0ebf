package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/resolveit/platform/internal/shared/types"
)

// OppositeParty is the counterpart named in a dispute
type OppositeParty struct {
	ID              types.ID   `json:"id"`
	CaseID          types.ID   `json:"case_id"`
	Name            string     `json:"name"`
	Email           *string    `json:"email"`
	Phone           *string    `json:"phone"`
	Address         *string    `json:"address"`
	Notified        bool       `json:"notified"`
	AgreedToMediate *bool      `json:"agreed_to_mediate"`
	RespondedAt     *time.Time `json:"responded_at"`
}

// HasResponded reports whether the party has answered the mediation request
func (p *OppositeParty) HasResponded() bool {
	return p.RespondedAt != nil
}

// FileType classifies an evidence artifact
type FileType string

const (
	FileTypeImage    FileType = "IMAGE"
	FileTypeVideo    FileType = "VIDEO"
	FileTypeAudio    FileType = "AUDIO"
	FileTypeDocument FileType = "DOCUMENT"
)

// IsValid reports whether t is one of the known file types
func (t FileType) IsValid() bool {
	switch t {
	case FileTypeImage, FileTypeVideo, FileTypeAudio, FileTypeDocument:
		return true
	}
	return false
}

// FileTypeFromMediaType derives the evidence type from a media type prefix
func FileTypeFromMediaType(mediaType string) FileType {
	mediaType = strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return FileTypeImage
	case strings.HasPrefix(mediaType, "video/"):
		return FileTypeVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return FileTypeAudio
	default:
		return FileTypeDocument
	}
}

// Evidence is an uploaded artifact, referenced by URL only
type Evidence struct {
	ID         types.ID  `json:"id"`
	CaseID     types.ID  `json:"case_id"`
	FileType   FileType  `json:"file_type"`
	FileURL    string    `json:"file_url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PanelMemberType is the category of a mediation panel member
type PanelMemberType string

const (
	PanelMemberLawyer    PanelMemberType = "LAWYER"
	PanelMemberCivil     PanelMemberType = "CIVIL"
	PanelMemberReligious PanelMemberType = "RELIGIOUS"
	PanelMemberOther     PanelMemberType = "OTHER"
)

// ParsePanelMemberType parses a panel member type
func ParsePanelMemberType(s string) (PanelMemberType, error) {
	t := PanelMemberType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case PanelMemberLawyer, PanelMemberCivil, PanelMemberReligious, PanelMemberOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown panel member type %q", s)
}

// PanelMember sits on the mediation panel of a case
type PanelMember struct {
	ID     types.ID        `json:"id"`
	CaseID types.ID        `json:"case_id"`
	Name   string          `json:"name"`
	Type   PanelMemberType `json:"type"`
}

// Witness is nominated by the case owner
type Witness struct {
	ID      types.ID `json:"id"`
	CaseID  types.ID `json:"case_id"`
	Name    string   `json:"name"`
	Contact *string  `json:"contact"`
}

// UserSummary is the owner projection joined into case reads
type UserSummary struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
}

// Role of an account holder
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is an account holder. Credentials live with the auth service.
type User struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary projects the user for case reads
func (u User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// StatusChange is one row of a case's status history
type StatusChange struct {
	ID         types.ID    `json:"id"`
	CaseID     types.ID    `json:"case_id"`
	From       *CaseStatus `json:"from_status"`
	To         CaseStatus  `json:"to_status"`
	Trigger    string      `json:"trigger"`
	ActorID    *types.ID   `json:"actor_id"`
	Override   bool        `json:"override"`
	OccurredAt time.Time   `json:"occurred_at"`
}
