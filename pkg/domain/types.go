package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleParticipant Role = "PARTICIPANT"
	RoleResearcher  Role = "RESEARCHER"
)

type StudyStatus string

const (
	StudyStatusDraft     StudyStatus = "DRAFT"
	StudyStatusActive    StudyStatus = "ACTIVE"
	StudyStatusCompleted StudyStatus = "COMPLETED"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

type ParticipationStatus string

const (
	ParticipationActive    ParticipationStatus = "ACTIVE"
	ParticipationCompleted ParticipationStatus = "COMPLETED"
)

// DisplayStatus is the reconciled status shown on a dashboard card. It is
// derived, never stored: ACTIVE and COMPLETED come from a participation,
// PENDING from an application awaiting review.
type DisplayStatus string

const (
	DisplayActive    DisplayStatus = "ACTIVE"
	DisplayPending   DisplayStatus = "PENDING"
	DisplayCompleted DisplayStatus = "COMPLETED"
)

// Timestamp decodes the backend's ISO-8601 timestamps, which may omit the
// timezone suffix or carry only a date.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Requirements holds the raw requirement entries of a study. The backend mixes
// bare label strings with typed constraint objects, so entries stay raw until
// display formatting. Anything that is not a JSON array decodes to an empty
// list rather than failing the whole record.
type Requirements []json.RawMessage

func (r *Requirements) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		*r = Requirements{}
		return nil
	}
	*r = entries
	return nil
}

// UserRef identifies another user inside a record payload.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// User is the authenticated actor.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// StudyRecord is the backend's canonical study metadata.
type StudyRecord struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	Description         string       `json:"description"`
	Institution         string       `json:"institution"`
	Category            string       `json:"category"`
	Duration            string       `json:"duration"`
	Compensation        float64      `json:"compensation"`
	Location            string       `json:"location"`
	ParticipantsNeeded  int          `json:"participants_needed"`
	ParticipantsCurrent int          `json:"participants_current"`
	Status              StudyStatus  `json:"status"`
	Requirements        Requirements `json:"requirements"`
	Researcher          *UserRef     `json:"researcher,omitempty"`
}

// StudySummary is the partial study embedded on applications and
// participations. Capacity, enrollment and requirements are not carried here.
type StudySummary struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Institution  string   `json:"institution"`
	Category     string   `json:"category"`
	Duration     string   `json:"duration"`
	Compensation float64  `json:"compensation"`
	Location     string   `json:"location"`
	Researcher   *UserRef `json:"researcher,omitempty"`
}

// ApplicationRecord is a participant's request to join a study. Status leaves
// PENDING only through researcher action on the backend.
type ApplicationRecord struct {
	ID        string            `json:"id"`
	Status    ApplicationStatus `json:"status"`
	Message   string            `json:"message"`
	CreatedAt Timestamp         `json:"created_at"`
	UpdatedAt Timestamp         `json:"updated_at"`
	Study     StudySummary      `json:"study"`
}

// ParticipationRecord is a confirmed enrollment, created by the backend when
// an application is approved.
type ParticipationRecord struct {
	ID           string              `json:"id"`
	Status       ParticipationStatus `json:"status"`
	ConsentGiven bool                `json:"consent_given"`
	StartDate    Timestamp           `json:"start_date"`
	EndDate      *Timestamp          `json:"end_date"`
	Notes        string              `json:"notes"`
	CreatedAt    Timestamp           `json:"created_at"`
	UpdatedAt    Timestamp           `json:"updated_at"`
	Study        StudySummary        `json:"study"`
}

// ViewStudy is the reconciled, display-ready projection. It is rebuilt on
// every fetch cycle and never persisted. MatchScore is present only for
// recommender-sourced entries.
type ViewStudy struct {
	StudyRecord
	DisplayStatus DisplayStatus `json:"displayStatus"`
	MatchScore    *int          `json:"matchScore,omitempty"`
}

// StudyRef is the study context attached to a conversation or message.
type StudyRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessagePreview is the last-message summary on a conversation.
type MessagePreview struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt Timestamp `json:"created_at"`
}

// Conversation groups messages with one other user, optionally scoped to a
// study. Ordering across conversations is server-defined (most recent
// activity first).
type Conversation struct {
	ID            string          `json:"id"`
	OtherUser     UserRef         `json:"other_user"`
	Study         *StudyRef       `json:"study,omitempty"`
	LastMessage   *MessagePreview `json:"last_message,omitempty"`
	UnreadCount   int             `json:"unread_count"`
	TotalMessages int             `json:"total_messages"`
}

// Message is immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt Timestamp `json:"created_at"`
	Sender    UserRef   `json:"sender"`
	Receiver  UserRef   `json:"receiver"`
	Study     *StudyRef `json:"study,omitempty"`
}

// ParticipantProfile is the participant's extended profile.
type ParticipantProfile struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DateOfBirth  string    `json:"date_of_birth"`
	Gender       string    `json:"gender"`
	Location     string    `json:"location"`
	Bio          string    `json:"bio"`
	Interests    []string  `json:"interests"`
	Availability []string  `json:"availability"`
	PhoneNumber  string    `json:"phone_number"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
}

// ProfileUpdate carries a partial profile edit. Empty fields are omitted from
// the payload so the backend applies only what the user actually set.
type ProfileUpdate struct {
	DateOfBirth  string   `json:"date_of_birth,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	Location     string   `json:"location,omitempty"`
	Bio          string   `json:"bio,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	Availability []string `json:"availability,omitempty"`
	PhoneNumber  string   `json:"phone_number,omitempty"`
	Institution  string   `json:"institution,omitempty"`
	Department   string   `json:"department,omitempty"`
}

// IsEmpty reports whether the update carries no fields at all.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DateOfBirth == "" && p.Gender == "" && p.Location == "" &&
		p.Bio == "" && len(p.Interests) == 0 && len(p.Availability) == 0 &&
		p.PhoneNumber == "" && p.Institution == "" && p.Department == ""
}

// StudyDraft is the payload for creating a new study.
type StudyDraft struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Institution        string   `json:"institution,omitempty"`
	Category           string   `json:"category"`
	Duration           string   `json:"duration"`
	Compensation       *float64 `json:"compensation"`
	Location           string   `json:"location"`
	ParticipantsNeeded int      `json:"participants_needed"`
	Requirements       []string `json:"requirements"`
}

// Applicant is a participant as seen by a researcher reviewing a study.
type Applicant struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Email   string              `json:"email"`
	Profile *ParticipantProfile `json:"participant_profile,omitempty"`
}

// StudyApplication is one application on a researcher's study.
type StudyApplication struct {
	ID        string            `json:"id"`
	Status    ApplicationStatus `json:"status"`
	Message   string            `json:"message"`
	CreatedAt Timestamp         `json:"created_at"`
	User      Applicant         `json:"user"`
}

// StudyParticipant is one enrollment on a researcher's study.
type StudyParticipant struct {
	ID           string              `json:"id"`
	Status       ParticipationStatus `json:"status"`
	StartDate    *Timestamp          `json:"start_date"`
	EndDate      *Timestamp          `json:"end_date"`
	ConsentGiven bool                `json:"consent_given"`
	Notes        string              `json:"notes"`
	CreatedAt    Timestamp           `json:"created_at"`
	User         Applicant           `json:"user"`
}

// MatchedParticipant is one entry of the researcher-side recommender feed.
type MatchedParticipant struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	Profile    *ParticipantProfile `json:"participant_profile,omitempty"`
	MatchScore float64             `json:"match_score"`
}
