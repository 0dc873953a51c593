package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProgramStatus tracks the publication state of a program/event.
type ProgramStatus string

const (
	ProgramStatusDraft     ProgramStatus = "draft"
	ProgramStatusPublished ProgramStatus = "published"
	ProgramStatusArchived  ProgramStatus = "archived"
)

// AttendeeType discriminates the attendee variant. A member references a
// registered user and carries no name; a guest carries a name and no user.
type AttendeeType string

const (
	AttendeeMember AttendeeType = "member"
	AttendeeGuest  AttendeeType = "guest"
)

// TutorType discriminates the tutor variant. Internal tutors reference a
// user (name optional); external tutors require a name.
type TutorType string

const (
	TutorInternal TutorType = "internal"
	TutorExternal TutorType = "external"
)

// Attendee is a tagged variant resolved by Type.
type Attendee struct {
	Type   AttendeeType `json:"type"`
	UserID *string      `json:"user_id,omitempty"`
	Name   *string      `json:"name,omitempty"`
}

// Tutor is a tagged variant resolved by Type.
type Tutor struct {
	Type   TutorType `json:"type"`
	UserID *string   `json:"user_id,omitempty"`
	Name   *string   `json:"name,omitempty"`
}

// AttendeeList persists attendees as a JSONB array.
type AttendeeList []Attendee

func (l AttendeeList) Value() (driver.Value, error) {
	if l == nil {
		l = AttendeeList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal attendees: %w", err)
	}
	return data, nil
}

func (l *AttendeeList) Scan(value interface{}) error {
	return scanJSON(value, l, "AttendeeList")
}

// TutorList persists tutors as a JSONB array.
type TutorList []Tutor

func (l TutorList) Value() (driver.Value, error) {
	if l == nil {
		l = TutorList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal tutors: %w", err)
	}
	return data, nil
}

func (l *TutorList) Scan(value interface{}) error {
	return scanJSON(value, l, "TutorList")
}

// Program represents a foundation program or event. It references the
// community it serves and carries its attendee and tutor rosters.
type Program struct {
	ID            string        `db:"id" json:"id"`
	Title         string        `db:"title" json:"title"`
	Description   string        `db:"description" json:"description"`
	CommunityName string        `db:"community_name" json:"community_name"`
	Location      string        `db:"location" json:"location"`
	Status        ProgramStatus `db:"status" json:"status"`
	StartDate     time.Time     `db:"start_date" json:"start_date"`
	EndDate       *time.Time    `db:"end_date" json:"end_date,omitempty"`
	Attendees     AttendeeList  `db:"attendees" json:"attendees"`
	Tutors        TutorList     `db:"tutors" json:"tutors"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// ProgramFilter captures list criteria for programs.
type ProgramFilter struct {
	Status        *ProgramStatus
	CommunityName string
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
