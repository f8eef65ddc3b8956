package papers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates the requested question paper does not exist.
	ErrNotFound = errors.New("papers: question paper not found")
	// ErrUserNotFound indicates the purchasing user does not exist.
	ErrUserNotFound = errors.New("papers: user not found")
	// ErrAlreadyPurchased indicates the paper is already in the purchased-set.
	ErrAlreadyPurchased = errors.New("papers: question paper already purchased")
	// ErrInsufficientBalance indicates the wallet cannot cover the price.
	ErrInsufficientBalance = errors.New("papers: insufficient wallet balance")
	// ErrNotPurchased indicates a download without membership or admin status.
	ErrNotPurchased = errors.New("papers: question paper not purchased")
	// ErrInvalidInput indicates a missing or out-of-enumeration field.
	ErrInvalidInput = errors.New("papers: invalid input")
)

// IDProvider issues identifiers for newly created papers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the paper catalog.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns the paid question paper catalog and the purchase flow.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs the papers service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("papers: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("papers: id provider required")
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
		now:        clock,
		logger:     logger,
	}, nil
}

// CreateInput carries the fields of a new question paper.
type CreateInput struct {
	Title      string
	Semester   string
	Branch     string
	Price      int64
	FileURL    string
	StorageID  string
	UploaderID string
}

// Create stores a new question paper. Papers have no moderation state and
// are visible to every authenticated user immediately.
func (s *Service) Create(ctx context.Context, input CreateInput) (*QuestionPaper, error) {
	switch {
	case strings.TrimSpace(input.Title) == "",
		strings.TrimSpace(input.FileURL) == "",
		strings.TrimSpace(input.StorageID) == "",
		strings.TrimSpace(input.UploaderID) == "":
		return nil, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	case !ValidSemester(input.Semester):
		return nil, fmt.Errorf("%w: unknown semester %q", ErrInvalidInput, input.Semester)
	case !ValidBranch(input.Branch):
		return nil, fmt.Errorf("%w: unknown branch %q", ErrInvalidInput, input.Branch)
	case input.Price < 0:
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}

	paper := QuestionPaper{
		ID:         id,
		Title:      strings.TrimSpace(input.Title),
		Semester:   input.Semester,
		Branch:     input.Branch,
		Price:      input.Price,
		FileURL:    input.FileURL,
		StorageID:  input.StorageID,
		UploaderID: input.UploaderID,
		UploadedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&paper).Error; err != nil {
		return nil, err
	}

	s.logger.Info("question paper created",
		zap.String("paper_id", paper.ID),
		zap.String("title", paper.Title),
		zap.Int64("price", paper.Price))
	return &paper, nil
}

// ListFilter narrows a paper listing.
type ListFilter struct {
	Semester string
	Branch   string
}

// List returns every matching paper, newest first, annotated with the
// caller's purchased flag, plus the caller's wallet balance.
func (s *Service) List(ctx context.Context, filter ListFilter, viewerID string) ([]Listing, int64, error) {
	query := s.db.WithContext(ctx).Model(&QuestionPaper{})
	if filter.Semester != "" {
		query = query.Where("semester = ?", filter.Semester)
	}
	if filter.Branch != "" {
		query = query.Where("branch = ?", filter.Branch)
	}

	var found []QuestionPaper
	if err := query.Order("uploaded_at DESC").Find(&found).Error; err != nil {
		return nil, 0, err
	}

	var viewer users.User
	if err := s.db.WithContext(ctx).Where("id = ?", viewerID).Take(&viewer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, err
	}

	purchased, err := s.purchasedSet(ctx, viewerID)
	if err != nil {
		return nil, 0, err
	}

	listings, err := s.attachUploaders(ctx, found, purchased)
	if err != nil {
		return nil, 0, err
	}
	return listings, viewer.Wallet, nil
}

func (s *Service) purchasedSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	var paperIDs []string
	err := s.db.WithContext(ctx).Model(&users.Purchase{}).
		Where("user_id = ?", userID).
		Pluck("paper_id", &paperIDs).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(paperIDs))
	for _, id := range paperIDs {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *Service) attachUploaders(ctx context.Context, found []QuestionPaper, purchased map[string]struct{}) ([]Listing, error) {
	uploaderIDs := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, paper := range found {
		if _, ok := seen[paper.UploaderID]; ok {
			continue
		}
		seen[paper.UploaderID] = struct{}{}
		uploaderIDs = append(uploaderIDs, paper.UploaderID)
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
	for _, paper := range found {
		_, isPurchased := purchased[paper.ID]
		uploader := uploaderByID[paper.UploaderID]
		listings = append(listings, Listing{
			QuestionPaper: paper,
			Purchased:     isPurchased,
			UploaderName:  uploader.Name,
			UploaderEmail: uploader.Email,
		})
	}
	return listings, nil
}

// Purchase moves the paper's price from the user's wallet to the paper's
// purchase count and grants download access. The whole flow runs in one
// database transaction with the user and paper rows locked, so a failure at
// any step leaves no partial effect, and the purchased-set's unique index
// rejects a concurrent duplicate grant at insert time. Returns the wallet
// balance after the purchase.
func (s *Service) Purchase(ctx context.Context, userID, paperID string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var paper QuestionPaper
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", paperID).
			Take(&paper).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		var user users.User
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", userID).
			Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}

		var owned int64
		err = tx.Model(&users.Purchase{}).
			Where("user_id = ? AND paper_id = ?", userID, paperID).
			Count(&owned).Error
		if err != nil {
			return err
		}
		if owned > 0 {
			return ErrAlreadyPurchased
		}

		if user.Wallet < paper.Price {
			return ErrInsufficientBalance
		}

		newBalance := user.Wallet - paper.Price
		if newBalance < 0 {
			newBalance = 0
		}

		err = tx.Model(&users.User{}).
			Where("id = ?", userID).
			Update("wallet", newBalance).Error
		if err != nil {
			return err
		}

		grant := users.Purchase{
			UserID:      userID,
			PaperID:     paperID,
			PurchasedAt: s.now().UTC(),
		}
		if err := tx.Create(&grant).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyPurchased
			}
			return err
		}

		err = tx.Model(&QuestionPaper{}).
			Where("id = ?", paperID).
			UpdateColumn("purchase_count", gorm.Expr("purchase_count + 1")).Error
		if err != nil {
			return err
		}

		balance = newBalance
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("question paper purchased",
		zap.String("paper_id", paperID),
		zap.String("user_id", userID),
		zap.Int64("balance", balance))
	return balance, nil
}

// Download returns the file URL for a paper the user has purchased.
// Administrators bypass the membership check. No state changes.
func (s *Service) Download(ctx context.Context, userID, paperID string, asAdmin bool) (string, error) {
	if !asAdmin {
		var owned int64
		err := s.db.WithContext(ctx).Model(&users.Purchase{}).
			Where("user_id = ? AND paper_id = ?", userID, paperID).
			Count(&owned).Error
		if err != nil {
			return "", err
		}
		if owned == 0 {
			return "", ErrNotPurchased
		}
	}

	var paper QuestionPaper
	if err := s.db.WithContext(ctx).Where("id = ?", paperID).Take(&paper).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return paper.FileURL, nil
}

// PurchasedPapers returns the user's purchased papers in purchase order,
// along with the current wallet balance.
func (s *Service) PurchasedPapers(ctx context.Context, userID string) ([]QuestionPaper, int64, error) {
	var user users.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, err
	}

	var grants []users.Purchase
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&grants).Error
	if err != nil {
		return nil, 0, err
	}

	paperIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		paperIDs = append(paperIDs, grant.PaperID)
	}

	owned := make([]QuestionPaper, 0, len(paperIDs))
	if len(paperIDs) > 0 {
		var found []QuestionPaper
		if err := s.db.WithContext(ctx).Where("id IN ?", paperIDs).Find(&found).Error; err != nil {
			return nil, 0, err
		}
		byID := make(map[string]QuestionPaper, len(found))
		for _, paper := range found {
			byID[paper.ID] = paper
		}
		// Preserve purchase order.
		for _, id := range paperIDs {
			if paper, ok := byID[id]; ok {
				owned = append(owned, paper)
			}
		}
	}

	return owned, user.Wallet, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
