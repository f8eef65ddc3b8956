package users

import (
	"strings"
	"time"
)

// DefaultWalletBalance is granted to every new account and restored by the
// admin wallet-restore operation.
const DefaultWalletBalance int64 = 100

var profileSemesters = map[string]struct{}{
	"1": {}, "2": {}, "3": {}, "4": {}, "5": {}, "6": {}, "7": {}, "8": {},
}

var profileBranches = map[string]struct{}{
	"CSE": {}, "ISE": {}, "ECE": {}, "EEE": {}, "ME": {},
	"CE": {}, "IPE": {}, "BT": {}, "AE": {}, "IEM": {},
}

// ValidSemester reports whether the value is an allowed profile semester.
// The empty string means "not set" and is accepted.
func ValidSemester(value string) bool {
	if value == "" {
		return true
	}
	_, ok := profileSemesters[value]
	return ok
}

// ValidBranch reports whether the value is an allowed profile branch.
// The empty string means "not set" and is accepted.
func ValidBranch(value string) bool {
	if value == "" {
		return true
	}
	_, ok := profileBranches[value]
	return ok
}

// User is the application-side profile for an external identity, including
// the wallet balance and aggregate stats.
type User struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null"`
	GoogleUID         string    `gorm:"column:google_uid;size:190;not null;uniqueIndex"`
	Email             string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Name              string    `gorm:"column:name;size:320;not null"`
	AvatarURL         string    `gorm:"column:avatar_url;size:512"`
	IsAdmin           bool      `gorm:"column:is_admin;not null;default:false"`
	Semester          string    `gorm:"column:semester;size:8;not null;default:''"`
	Branch            string    `gorm:"column:branch;size:16;not null;default:''"`
	Wallet            int64     `gorm:"column:wallet;not null;default:100"`
	NotesUploaded     int64     `gorm:"column:notes_uploaded;not null;default:0"`
	DownloadsReceived int64     `gorm:"column:downloads_received;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	LastLogin         time.Time `gorm:"column:last_login"`
}

// TableName exposes the table backing user profiles.
func (User) TableName() string {
	return "users"
}

// Purchase records one question paper bought by one user. The composite
// unique index is the purchased-set membership guard: a duplicate grant
// fails at insert time rather than on a stale read. The auto-increment key
// preserves insertion order for display.
type Purchase struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_purchases_user_paper,priority:1"`
	PaperID     string    `gorm:"column:paper_id;size:190;not null;uniqueIndex:idx_purchases_user_paper,priority:2"`
	PurchasedAt time.Time `gorm:"column:purchased_at;not null"`
}

// TableName exposes the table backing the purchased-set.
func (Purchase) TableName() string {
	return "purchases"
}

// RevokedIdentity marks an external subject whose account was deleted by an
// administrator. Identity sync refuses revoked subjects even when the
// provider still vouches for them.
type RevokedIdentity struct {
	Subject   string    `gorm:"column:subject;primaryKey;size:190;not null"`
	RevokedAt time.Time `gorm:"column:revoked_at;not null"`
}

// TableName exposes the table backing identity revocations.
func (RevokedIdentity) TableName() string {
	return "revoked_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
