package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notesmate/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("users: user not found")
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrIdentityRevoked indicates the subject was deleted by an administrator.
	ErrIdentityRevoked = errors.New("users: identity revoked")
	// ErrCredentialConflict indicates an account already exists with different credentials.
	ErrCredentialConflict = errors.New("users: account already exists with different credentials")
	// ErrDuplicateEmail indicates a registration collided on email.
	ErrDuplicateEmail = errors.New("users: email already exists")
	// ErrInvalidProfile indicates a semester or branch outside the allowed sets.
	ErrInvalidProfile = errors.New("users: invalid semester or branch")
	// ErrWalletRestoreFailed indicates the post-write read-back did not match.
	ErrWalletRestoreFailed = errors.New("users: wallet restore verification failed")
)

// ServiceConfig describes the dependencies required for the user directory.
type ServiceConfig struct {
	Database   *gorm.DB
	AdminEmail string
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages application user profiles, wallets, and the purchased-set.
type Service struct {
	db         *gorm.DB
	adminEmail string
	idProvider IDProvider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs the user directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	if strings.TrimSpace(cfg.AdminEmail) == "" {
		return nil, fmt.Errorf("users: admin email required")
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
		adminEmail: strings.ToLower(strings.TrimSpace(cfg.AdminEmail)),
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// Sync upserts the profile for a verified identity. Runs on every
// authenticated request: a first verification creates the account with the
// default wallet, later ones refresh email, name, avatar, admin flag, and
// last login. The admin flag is derived from the configured allow-list email
// on each sync, never persisted as an independent grant.
func (s *Service) Sync(ctx context.Context, claims auth.IdentityClaims) (*User, error) {
	subject := normalize(claims.Subject)
	email := normalize(claims.Email)
	if subject == "" || email == "" {
		return nil, ErrInvalidIdentity
	}

	var revoked RevokedIdentity
	err := s.db.WithContext(ctx).Where("subject = ?", subject).Take(&revoked).Error
	if err == nil {
		return nil, ErrIdentityRevoked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	name := normalize(claims.Name)
	if name == "" {
		name = localPart(email)
	}

	fields := map[string]interface{}{
		"email":      email,
		"name":       name,
		"avatar_url": normalize(claims.AvatarURL),
		"is_admin":   s.isAdminEmail(email),
		"last_login": s.now().UTC(),
	}

	var user User
	err = s.db.WithContext(ctx).Where("google_uid = ?", subject).Take(&user).Error
	switch {
	case err == nil:
		if err := s.applySync(ctx, user.ID, fields); err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// The subject is new; a user registered with this email may already
		// exist, in which case the external identity is attached to it.
		err = s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
		if err == nil {
			fields["google_uid"] = subject
			if err := s.applySync(ctx, user.ID, fields); err != nil {
				return nil, err
			}
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			id, idErr := s.idProvider.NewID()
			if idErr != nil {
				return nil, idErr
			}
			user = User{
				ID:        id,
				GoogleUID: subject,
				Email:     email,
				Name:      name,
				AvatarURL: normalize(claims.AvatarURL),
				IsAdmin:   s.isAdminEmail(email),
				Wallet:    DefaultWalletBalance,
				LastLogin: s.now().UTC(),
			}
			if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
				if isUniqueViolation(err) {
					return nil, ErrCredentialConflict
				}
				return nil, err
			}
			s.logger.Info("user created",
				zap.String("user_id", user.ID),
				zap.String("email", user.Email),
				zap.Bool("is_admin", user.IsAdmin))
			return &user, nil
		} else {
			return nil, err
		}
	default:
		return nil, err
	}

	var refreshed User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).Take(&refreshed).Error; err != nil {
		return nil, err
	}
	return &refreshed, nil
}

func (s *Service) applySync(ctx context.Context, userID string, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(fields).Error
	if err != nil && isUniqueViolation(err) {
		return ErrCredentialConflict
	}
	return err
}

// RegisterInput carries the fields accepted by explicit registration.
type RegisterInput struct {
	Email    string
	Name     string
	Semester string
	Branch   string
}

// Register creates an account ahead of the first provider sign-in. The
// placeholder subject is replaced when the provider identity first syncs
// against the registered email.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	email := normalize(input.Email)
	if email == "" {
		return nil, ErrInvalidIdentity
	}
	if !ValidSemester(input.Semester) || !ValidBranch(input.Branch) {
		return nil, ErrInvalidProfile
	}

	name := normalize(input.Name)
	if name == "" {
		name = localPart(email)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}

	user := User{
		ID:        id,
		GoogleUID: "local:" + id,
		Email:     email,
		Name:      name,
		Semester:  input.Semester,
		Branch:    input.Branch,
		IsAdmin:   false,
		Wallet:    DefaultWalletBalance,
		LastLogin: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &user, nil
}

// ProfileUpdate carries the optional fields of a profile edit. Empty values
// leave the stored field untouched.
type ProfileUpdate struct {
	Name     string
	Semester string
	Branch   string
}

// UpdateProfile applies a partial profile edit for the given subject.
func (s *Service) UpdateProfile(ctx context.Context, subject string, update ProfileUpdate) (*User, error) {
	if !ValidSemester(update.Semester) || !ValidBranch(update.Branch) {
		return nil, ErrInvalidProfile
	}

	fields := map[string]interface{}{}
	if name := normalize(update.Name); name != "" {
		fields["name"] = name
	}
	if update.Semester != "" {
		fields["semester"] = update.Semester
	}
	if update.Branch != "" {
		fields["branch"] = update.Branch
	}

	var user User
	if err := s.db.WithContext(ctx).Where("google_uid = ?", subject).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(fields) > 0 {
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(fields).Error; err != nil {
			return nil, err
		}
	}

	var refreshed User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).Take(&refreshed).Error; err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// Get loads a user by application id.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// AccountSummary is the admin dashboard projection of a user.
type AccountSummary struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	Wallet              int64     `json:"wallet"`
	IsAdmin             bool      `json:"isAdmin"`
	LastLogin           time.Time `json:"lastLogin"`
	PurchasedPaperCount int64     `json:"purchasedPaperCount"`
}

// List returns every account with its purchased-paper count, most recently
// active first.
func (s *Service) List(ctx context.Context) ([]AccountSummary, error) {
	var all []User
	if err := s.db.WithContext(ctx).Order("last_login DESC").Find(&all).Error; err != nil {
		return nil, err
	}

	type purchaseCount struct {
		UserID string
		N      int64
	}
	var counts []purchaseCount
	err := s.db.WithContext(ctx).
		Model(&Purchase{}).
		Select("user_id, COUNT(*) AS n").
		Group("user_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	countByUser := make(map[string]int64, len(counts))
	for _, c := range counts {
		countByUser[c.UserID] = c.N
	}

	summaries := make([]AccountSummary, 0, len(all))
	for _, u := range all {
		summaries = append(summaries, AccountSummary{
			ID:                  u.ID,
			Name:                u.Name,
			Email:               u.Email,
			Wallet:              u.Wallet,
			IsAdmin:             u.IsAdmin,
			LastLogin:           u.LastLogin,
			PurchasedPaperCount: countByUser[u.ID],
		})
	}
	return summaries, nil
}

// Delete removes a user and their purchased-set, then best-effort revokes the
// external identity so the provider can no longer re-create the account.
// Revocation failure is logged and does not undo the deletion.
func (s *Service) Delete(ctx context.Context, userID string) error {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Purchase{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", userID).Delete(&User{}).Error
	})
	if err != nil {
		return err
	}

	revocation := RevokedIdentity{Subject: user.GoogleUID, RevokedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&revocation).Error; err != nil {
		s.logger.Warn("identity revocation failed",
			zap.String("subject", user.GoogleUID),
			zap.Error(err))
	}

	s.logger.Info("user deleted",
		zap.String("user_id", userID),
		zap.String("email", user.Email))
	return nil
}

// RestoreWallet forces the target wallet back to the default balance,
// unconditionally, and verifies the write by reading it back.
func (s *Service) RestoreWallet(ctx context.Context, userID string) (int64, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("wallet", DefaultWalletBalance).Error
	if err != nil {
		return 0, err
	}

	var restored User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&restored).Error; err != nil {
		return 0, err
	}
	if restored.Wallet != DefaultWalletBalance {
		return restored.Wallet, ErrWalletRestoreFailed
	}
	return restored.Wallet, nil
}

func (s *Service) isAdminEmail(email string) bool {
	return strings.ToLower(email) == s.adminEmail
}

func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
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
