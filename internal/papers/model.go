package papers

import "time"

var paperSemesters = map[string]struct{}{
	"1": {}, "2": {}, "3": {}, "4": {}, "5": {}, "6": {}, "7": {}, "8": {},
}

// Question papers predate the full branch list used by notes and keep their
// own enumeration.
var paperBranches = map[string]struct{}{
	"CSE": {}, "ISE": {}, "ECE": {}, "EEE": {}, "MECH": {}, "CIVIL": {},
}

// ValidSemester reports whether the value is an allowed paper semester.
func ValidSemester(value string) bool {
	_, ok := paperSemesters[value]
	return ok
}

// ValidBranch reports whether the value is an allowed paper branch.
func ValidBranch(value string) bool {
	_, ok := paperBranches[value]
	return ok
}

// QuestionPaper models a paid past paper. There is no moderation state:
// papers are uploaded by administrators and visible immediately.
type QuestionPaper struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Title         string    `gorm:"column:title;size:320;not null" json:"title"`
	Semester      string    `gorm:"column:semester;size:8;not null" json:"semester"`
	Branch        string    `gorm:"column:branch;size:16;not null" json:"branch"`
	Price         int64     `gorm:"column:price;not null" json:"price"`
	FileURL       string    `gorm:"column:file_url;size:512;not null" json:"fileUrl"`
	StorageID     string    `gorm:"column:storage_id;size:320;not null" json:"storageId"`
	UploaderID    string    `gorm:"column:uploader_id;size:190;not null;index" json:"uploaderId"`
	PurchaseCount int64     `gorm:"column:purchase_count;not null;default:0" json:"purchaseCount"`
	UploadedAt    time.Time `gorm:"column:uploaded_at;autoCreateTime" json:"uploadedAt"`
}

// TableName provides the explicit table binding for GORM.
func (QuestionPaper) TableName() string {
	return "question_papers"
}

// Listing is a paper annotated for one viewing user.
type Listing struct {
	QuestionPaper
	Purchased     bool   `json:"purchased"`
	UploaderName  string `json:"uploaderName"`
	UploaderEmail string `json:"uploaderEmail,omitempty"`
}
