package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested note does not exist.
	ErrNotFound = errors.New("notes: note not found")
	// ErrInvalidInput indicates a missing or out-of-enumeration field.
	ErrInvalidInput = errors.New("notes: invalid input")
	// ErrNotAvailable indicates a non-approved note requested by a non-admin.
	ErrNotAvailable = errors.New("notes: note not available for download")
)

// IDProvider issues identifiers for newly created notes.
type IDProvider interface {
	NewID() (string, error)
}

// ObjectStore is the slice of the file store the notes service needs:
// removing the backing object when a note is deleted.
type ObjectStore interface {
	Destroy(ctx context.Context, publicID string) error
}

// ServiceConfig describes the dependencies of the notes catalog.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Store      ObjectStore
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns the note catalog and its moderation lifecycle.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	store      ObjectStore
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs the notes service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notes: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("notes: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		store:      cfg.Store,
		now:        clock,
		logger:     logger,
	}, nil
}

// CreateInput carries the fields of a new note upload.
type CreateInput struct {
	Title       string
	Description string
	Semester    string
	Branch      string
	Subject     string
	FileURL     string
	StorageID   string
	UploaderID  string
}

// Create stores a new note in the pending state and bumps the uploader's
// notes-uploaded stat.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Note, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}

	note := Note{
		ID:          id,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Semester:    input.Semester,
		Branch:      input.Branch,
		Subject:     strings.TrimSpace(input.Subject),
		FileURL:     input.FileURL,
		StorageID:   input.StorageID,
		UploaderID:  input.UploaderID,
		Status:      StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&users.User{}).
		Where("id = ?", input.UploaderID).
		UpdateColumn("notes_uploaded", gorm.Expr("notes_uploaded + 1")).Error
	if err != nil {
		s.logger.Warn("uploader stat update failed",
			zap.String("note_id", note.ID),
			zap.String("uploader_id", input.UploaderID),
			zap.Error(err))
	}

	s.logger.Info("note created",
		zap.String("note_id", note.ID),
		zap.String("subject", note.Subject),
		zap.String("uploader_id", note.UploaderID))
	return &note, nil
}

func validateCreate(input CreateInput) error {
	switch {
	case strings.TrimSpace(input.Title) == "",
		strings.TrimSpace(input.Description) == "",
		strings.TrimSpace(input.Subject) == "",
		strings.TrimSpace(input.FileURL) == "",
		strings.TrimSpace(input.StorageID) == "",
		strings.TrimSpace(input.UploaderID) == "":
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	case !ValidSemester(input.Semester):
		return fmt.Errorf("%w: unknown semester %q", ErrInvalidInput, input.Semester)
	case !ValidBranch(input.Branch):
		return fmt.Errorf("%w: unknown branch %q", ErrInvalidInput, input.Branch)
	}
	return nil
}

// ListFilter narrows a catalog listing. Status is honored only for
// administrators; everyone else is forced to the approved slice server-side.
type ListFilter struct {
	Semester string
	Branch   string
	Subject  string
	Status   string
	AsAdmin  bool
}

// List returns notes matching the filter, newest first, with uploader
// display fields attached.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Listing, error) {
	query := s.db.WithContext(ctx).Model(&Note{})
	if filter.Semester != "" {
		query = query.Where("semester = ?", filter.Semester)
	}
	if filter.Branch != "" {
		query = query.Where("branch = ?", filter.Branch)
	}
	if filter.Subject != "" {
		query = query.Where("subject = ?", filter.Subject)
	}
	if filter.AsAdmin {
		if filter.Status != "" {
			if !ValidStatus(filter.Status) {
				return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
			}
			query = query.Where("status = ?", filter.Status)
		}
	} else {
		query = query.Where("status = ?", StatusApproved)
	}

	var found []Note
	if err := query.Order("created_at DESC").Find(&found).Error; err != nil {
		return nil, err
	}
	return s.attachUploaders(ctx, found)
}

func (s *Service) attachUploaders(ctx context.Context, found []Note) ([]Listing, error) {
	uploaderIDs := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, note := range found {
		if _, ok := seen[note.UploaderID]; ok {
			continue
		}
		seen[note.UploaderID] = struct{}{}
		uploaderIDs = append(uploaderIDs, note.UploaderID)
	}

	uploaderByID := make(map[string]users.User, len(uploaderIDs))
	if len(uploaderIDs) > 0 {
		var uploaders []users.User
		if err := s.db.WithContext(ctx).Where("id IN ?", uploaderIDs).Find(&uploaders).Error; err != nil {
			return nil, err
		}
		for _, u := range uploaders {
			uploaderByID[u.ID] = u
		}
	}

	listings := make([]Listing, 0, len(found))
	for _, note := range found {
		uploader := uploaderByID[note.UploaderID]
		listings = append(listings, Listing{
			Note:          note,
			UploaderName:  uploader.Name,
			UploaderEmail: uploader.Email,
		})
	}
	return listings, nil
}

// SetStatus transitions a note's moderation state with a single atomic field
// update. Counters are untouched by the transition.
func (s *Service) SetStatus(ctx context.Context, noteID string, status Status) (*Note, error) {
	if !ValidStatus(string(status)) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("id = ?", noteID).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var note Note
	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error; err != nil {
		return nil, err
	}
	s.logger.Info("note moderated",
		zap.String("note_id", noteID),
		zap.String("status", string(status)))
	return &note, nil
}

// Delete removes a note record and then best-effort deletes the backing
// object. A store failure is logged and does not resurrect the record.
func (s *Service) Delete(ctx context.Context, noteID string) error {
	var note Note
	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Delete(&Note{}).Error; err != nil {
		return err
	}

	if s.store != nil && note.StorageID != "" {
		if err := s.store.Destroy(ctx, note.StorageID); err != nil {
			s.logger.Warn("stored object deletion failed",
				zap.String("note_id", noteID),
				zap.String("storage_id", note.StorageID),
				zap.Error(err))
		}
	}

	s.logger.Info("note deleted", zap.String("note_id", noteID))
	return nil
}

// Download returns the file URL for a note, incrementing its download
// counter and the uploader's downloads-received stat. Non-approved notes are
// only served to administrators.
func (s *Service) Download(ctx context.Context, noteID string, asAdmin bool) (string, error) {
	var note Note
	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if note.Status != StatusApproved && !asAdmin {
		return "", ErrNotAvailable
	}

	err := s.db.WithContext(ctx).Model(&Note{}).
		Where("id = ?", noteID).
		UpdateColumn("downloads", gorm.Expr("downloads + 1")).Error
	if err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).Model(&users.User{}).
		Where("id = ?", note.UploaderID).
		UpdateColumn("downloads_received", gorm.Expr("downloads_received + 1")).Error
	if err != nil {
		s.logger.Warn("uploader download stat update failed",
			zap.String("note_id", noteID),
			zap.Error(err))
	}

	return note.FileURL, nil
}

// Subjects returns the distinct subjects with approved notes for a
// semester and branch.
func (s *Service) Subjects(ctx context.Context, semester, branch string) ([]string, error) {
	if semester == "" || branch == "" {
		return nil, fmt.Errorf("%w: semester and branch are required", ErrInvalidInput)
	}

	var subjects []string
	err := s.db.WithContext(ctx).Model(&Note{}).
		Where("semester = ? AND branch = ? AND status = ?", semester, branch, StatusApproved).
		Distinct("subject").
		Order("subject").
		Pluck("subject", &subjects).Error
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

// ComputeStats recomputes the derived catalog view. includeModeration adds
// the per-status breakdown exposed only to administrators.
func (s *Service) ComputeStats(ctx context.Context, includeModeration bool) (*Stats, error) {
	stats := &Stats{}

	db := s.db.WithContext(ctx)
	if err := db.Model(&Note{}).Count(&stats.TotalNotes).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Note{}).Select("COALESCE(SUM(downloads), 0)").Scan(&stats.TotalDownloads).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&users.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Table("question_papers").Count(&stats.TotalQuestionPapers).Error; err != nil {
		return nil, err
	}

	if includeModeration {
		for status, target := range map[Status]*int64{
			StatusPending:  &stats.PendingNotes,
			StatusApproved: &stats.ApprovedNotes,
			StatusRejected: &stats.RejectedNotes,
		} {
			if err := db.Model(&Note{}).Where("status = ?", status).Count(target).Error; err != nil {
				return nil, err
			}
		}
	}

	var recent []Note
	if err := db.Order("created_at DESC").Limit(5).Find(&recent).Error; err != nil {
		return nil, err
	}
	recentListings, err := s.attachUploaders(ctx, recent)
	if err != nil {
		return nil, err
	}
	stats.RecentUploads = recentListings

	err = db.Model(&Note{}).
		Select("subject, COUNT(*) AS count").
		Where("status = ?", StatusApproved).
		Group("subject").
		Order("count DESC").
		Limit(5).
		Scan(&stats.PopularSubjects).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}
