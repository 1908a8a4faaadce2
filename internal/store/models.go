package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile is the participant's family information.
type Profile struct {
	UserID      string
	FamilyName  string
	DisplayName string
	// FamilyMembers names respondents by slot position.
	FamilyMembers []string
	UpdatedAt     time.Time
}

// Participant is a user with their profile for the admin overview.
type Participant struct {
	User    User
	Profile *Profile
}

// ResponseSlot is one persisted respondent answer.
type ResponseSlot struct {
	UserID     string
	SectionID  string
	QuestionID string
	Index      int
	Name       string
	Content    string
	UpdatedAt  time.Time
}

// ConsolidatedAnswer is the single combined record some questions persist.
type ConsolidatedAnswer struct {
	UserID     string
	SectionID  string
	QuestionID string
	Body       string
	UpdatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
