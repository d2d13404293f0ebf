package domain

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/resolveit/platform/internal/shared/errors"
	"github.com/resolveit/platform/internal/shared/types"
)

func validRegistration() Registration {
	return Registration{
		CaseType:          "BUSINESS",
		Description:       "Unpaid invoice",
		OppositePartyName: "Tech Solutions Inc.",
	}
}

func TestNewCase(t *testing.T) {
	reg := validRegistration()
	reg.OppositePartyEmail = "contact@techsolutions.com"

	c, party, err := NewCase(types.ID(1), reg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.Status != CaseStatusRegistered {
		t.Errorf("Expected status %s, got %s", CaseStatusRegistered, c.Status)
	}
	if c.CaseType != CaseTypeBusiness {
		t.Errorf("Expected type %s, got %s", CaseTypeBusiness, c.CaseType)
	}
	if c.CaseNumber != nil {
		t.Error("Expected empty case number to stay nil")
	}
	if party.Name != "Tech Solutions Inc." || party.Email == nil {
		t.Errorf("Unexpected opposite party %+v", party)
	}
	if party.Notified || party.AgreedToMediate != nil {
		t.Error("Expected fresh opposite party to be unnotified and unanswered")
	}
}

func TestNewCaseReportsEveryInvalidField(t *testing.T) {
	_, _, err := NewCase(types.ID(1), Registration{CaseType: "WEDDING"})

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("Expected AppError, got %v", err)
	}
	for _, field := range []string{"case_type", "description", "opposite_party_name"} {
		if _, ok := appErr.Details[field]; !ok {
			t.Errorf("Expected detail for %s", field)
		}
	}
}

func TestFileTypeFromMediaType(t *testing.T) {
	tests := []struct {
		mediaType string
		want      FileType
	}{
		{"image/jpeg", FileTypeImage},
		{"video/mp4", FileTypeVideo},
		{"audio/mpeg", FileTypeAudio},
		{"application/pdf", FileTypeDocument},
		{"application/msword", FileTypeDocument},
	}

	for _, tt := range tests {
		if got := FileTypeFromMediaType(tt.mediaType); got != tt.want {
			t.Errorf("FileTypeFromMediaType(%s) = %s, want %s", tt.mediaType, got, tt.want)
		}
	}
}

func TestListFilterMatches(t *testing.T) {
	created := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)
	c := &Case{
		UserID:      types.ID(2),
		CaseType:    CaseTypeBusiness,
		Description: "Breach of contract",
		Status:      CaseStatusRegistered,
		CreatedAt:   created,
		User:        &UserSummary{ID: 2, Name: "Amit Patel"},
		OppositeParties: []OppositeParty{
			{Name: "Tech Solutions Inc."},
		},
	}

	registered := CaseStatusRegistered
	resolved := CaseStatusResolved
	sameDay := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	nextDay := sameDay.AddDate(0, 0, 1)

	tests := []struct {
		name   string
		filter ListFilter
		want   bool
	}{
		{"empty filter", ListFilter{}, true},
		{"owner name", ListFilter{Search: "amit"}, true},
		{"opposite party name", ListFilter{Search: "TECH"}, true},
		{"description", ListFilter{Search: "contract"}, true},
		{"no match", ListFilter{Search: "priya"}, false},
		{"search and status", ListFilter{Search: "Amit", Status: &registered}, true},
		{"search and other status", ListFilter{Search: "Amit", Status: &resolved}, false},
		{"created on same day", ListFilter{CreatedOn: &sameDay}, true},
		{"created on next day", ListFilter{CreatedOn: &nextDay}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(c); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
