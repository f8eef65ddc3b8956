package notes

import "time"

// Status is the moderation lifecycle gate applied to notes.
type Status string

const (
	// StatusPending is the initial state of every uploaded note.
	StatusPending Status = "pending"
	// StatusApproved makes a note visible to non-administrators.
	StatusApproved Status = "approved"
	// StatusRejected keeps a note hidden from non-administrators.
	StatusRejected Status = "rejected"
)

// ValidStatus reports whether the value is a known moderation status.
func ValidStatus(value string) bool {
	switch Status(value) {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

var noteSemesters = map[string]struct{}{
	"1": {}, "2": {}, "3": {}, "4": {}, "5": {}, "6": {}, "7": {}, "8": {},
}

var noteBranches = map[string]struct{}{
	"CSE": {}, "ISE": {}, "ECE": {}, "EEE": {}, "ME": {},
	"CE": {}, "IPE": {}, "BT": {}, "AE": {}, "IEM": {},
}

// ValidSemester reports whether the value is an allowed note semester.
func ValidSemester(value string) bool {
	_, ok := noteSemesters[value]
	return ok
}

// ValidBranch reports whether the value is an allowed note branch.
func ValidBranch(value string) bool {
	_, ok := noteBranches[value]
	return ok
}

// Note models a shared study note and its moderation state.
type Note struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Title       string    `gorm:"column:title;size:320;not null" json:"title"`
	Description string    `gorm:"column:description;type:text;not null" json:"description"`
	Semester    string    `gorm:"column:semester;size:8;not null" json:"semester"`
	Branch      string    `gorm:"column:branch;size:16;not null" json:"branch"`
	Subject     string    `gorm:"column:subject;size:190;not null;index" json:"subject"`
	FileURL     string    `gorm:"column:file_url;size:512;not null" json:"fileUrl"`
	StorageID   string    `gorm:"column:storage_id;size:320;not null" json:"storageId"`
	UploaderID  string    `gorm:"column:uploader_id;size:190;not null;index" json:"uploaderId"`
	Status      Status    `gorm:"column:status;size:16;not null;default:'pending';index" json:"status"`
	Views       int64     `gorm:"column:views;not null;default:0" json:"views"`
	Downloads   int64     `gorm:"column:downloads;not null;default:0" json:"downloads"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Listing is a note joined with its uploader's display fields.
type Listing struct {
	Note
	UploaderName  string `json:"uploaderName"`
	UploaderEmail string `json:"uploaderEmail,omitempty"`
}

// SubjectCount pairs a subject with its approved-note count.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int64  `json:"count"`
}

// Stats is the derived catalog view, recomputed on each request.
type Stats struct {
	TotalNotes          int64          `json:"totalNotes"`
	TotalDownloads      int64          `json:"totalDownloads"`
	TotalUsers          int64          `json:"totalUsers"`
	TotalQuestionPapers int64          `json:"totalQuestionPapers"`
	PendingNotes        int64          `json:"pendingNotes,omitempty"`
	ApprovedNotes       int64          `json:"approvedNotes,omitempty"`
	RejectedNotes       int64          `json:"rejectedNotes,omitempty"`
	RecentUploads       []Listing      `json:"recentUploads"`
	PopularSubjects     []SubjectCount `json:"popularSubjects"`
}
