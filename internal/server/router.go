package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/notesmate/backend/internal/auth"
	"github.com/notesmate/backend/internal/notes"
	"github.com/notesmate/backend/internal/papers"
	"github.com/notesmate/backend/internal/storage"
	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
)

const userContextKey = "notesmate_user"

var (
	errMissingVerifier      = errors.New("identity verifier dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingPapersService = errors.New("papers service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates an external bearer credential.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// AdminTokenManager issues and validates admin session tokens.
type AdminTokenManager interface {
	IssueAdminToken(ctx context.Context, email string) (string, int64, error)
	ValidateToken(token string) (auth.IdentityClaims, error)
}

// ObjectUploader stores an uploaded file and returns its URL and handle.
type ObjectUploader interface {
	Upload(ctx context.Context, file io.Reader, filename string) (storage.UploadResult, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	Verifier          IdentityVerifier
	Tokens            AdminTokenManager
	Users             *users.Service
	Notes             *notes.Service
	Papers            *papers.Service
	Uploader          ObjectUploader
	AdminEmail        string
	AdminPasswordHash string
	AllowedOrigins    []string
	Logger            *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Papers == nil {
		return nil, errMissingPapersService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		verifier:          deps.Verifier,
		tokens:            deps.Tokens,
		users:             deps.Users,
		notes:             deps.Notes,
		papers:            deps.Papers,
		uploader:          deps.Uploader,
		adminEmail:        strings.ToLower(strings.TrimSpace(deps.AdminEmail)),
		adminPasswordHash: deps.AdminPasswordHash,
		logger:            logger,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.POST("/auth/admin/login", handler.handleAdminLogin)
	api.GET("/notes", handler.authenticateOptional, handler.handleListNotes)
	api.GET("/notes/stats", handler.handleStats)
	api.GET("/notes/subjects", handler.handleSubjects)

	authenticated := api.Group("/")
	authenticated.Use(handler.authenticate)
	authenticated.POST("/auth/verify", handler.handleVerify)
	authenticated.PUT("/auth/profile", handler.handleUpdateProfile)
	authenticated.POST("/notes", handler.handleCreateNote)
	authenticated.GET("/notes/:id/download", handler.handleDownloadNote)
	authenticated.GET("/question-papers", handler.handleListPapers)
	authenticated.POST("/question-papers/purchase/:id", handler.handlePurchasePaper)
	authenticated.GET("/question-papers/download/:id", handler.handleDownloadPaper)
	authenticated.GET("/question-papers/my-papers", handler.handleMyPapers)
	authenticated.POST("/upload", handler.handleUpload)

	// Registration is open: the caller has no credential yet.
	api.POST("/auth/register", handler.handleRegister)

	admin := api.Group("/")
	admin.Use(handler.authenticate, handler.requireAdmin)
	admin.GET("/notes/admin", handler.handleAdminListNotes)
	admin.GET("/notes/admin/stats", handler.handleAdminStats)
	admin.PUT("/notes/:id/approve", handler.handleApproveNote)
	admin.PUT("/notes/:id/reject", handler.handleRejectNote)
	admin.DELETE("/notes/:id", handler.handleDeleteNote)
	admin.POST("/question-papers/upload", handler.handleCreatePaper)
	admin.GET("/admin/users", handler.handleListUsers)
	admin.PATCH("/admin/users/:id/restore-wallet", handler.handleRestoreWallet)
	admin.DELETE("/admin/users/:id", handler.handleDeleteUser)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{
			"Authorization", "Content-Type", "Cache-Control",
			"X-Requested-With", "Accept", "Origin",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"*"}
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

type httpHandler struct {
	verifier          IdentityVerifier
	tokens            AdminTokenManager
	users             *users.Service
	notes             *notes.Service
	papers            *papers.Service
	uploader          ObjectUploader
	adminEmail        string
	adminPasswordHash string
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Server is running"})
}

// authenticate resolves the bearer credential, syncs the user profile, and
// stores the user in the request context. Admin session tokens are tried
// first; everything else is treated as a provider ID token.
func (h *httpHandler) authenticate(c *gin.Context) {
	user, status, message := h.resolveUser(c)
	if user == nil {
		c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}

// authenticateOptional attaches the user when a valid credential is present
// and continues anonymously otherwise.
func (h *httpHandler) authenticateOptional(c *gin.Context) {
	if c.GetHeader("Authorization") != "" {
		if user, _, _ := h.resolveUser(c); user != nil {
			c.Set(userContextKey, user)
		}
	}
	c.Next()
}

func (h *httpHandler) resolveUser(c *gin.Context) (*users.User, int, string) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, http.StatusUnauthorized, "No token provided"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, http.StatusUnauthorized, "No token provided"
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		claims, err = h.verifier.Verify(c.Request.Context(), token)
	}
	if err != nil {
		h.logger.Warn("token verification failed", zap.Error(err))
		return nil, http.StatusUnauthorized, "Invalid or expired token"
	}

	user, err := h.users.Sync(c.Request.Context(), claims)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrIdentityRevoked):
			return nil, http.StatusUnauthorized, "Account has been removed"
		case errors.Is(err, users.ErrCredentialConflict):
			return nil, http.StatusUnauthorized, "User already exists with different credentials"
		default:
			h.logger.Error("identity sync failed", zap.Error(err))
			return nil, http.StatusInternalServerError, "Error processing user data"
		}
	}
	return user, http.StatusOK, ""
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	user := currentUser(c)
	if user == nil || !user.IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Access denied. Admin privileges required.",
		})
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) *users.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, ok := value.(*users.User)
	if !ok {
		return nil
	}
	return user
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": true, "message": message})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondServiceError maps service sentinels onto the HTTP taxonomy.
func (h *httpHandler) respondServiceError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, notes.ErrNotFound):
		fail(c, http.StatusNotFound, "Note not found")
	case errors.Is(err, papers.ErrNotFound):
		fail(c, http.StatusNotFound, "Question paper not found")
	case errors.Is(err, users.ErrNotFound), errors.Is(err, papers.ErrUserNotFound):
		fail(c, http.StatusNotFound, "User not found")
	case errors.Is(err, papers.ErrAlreadyPurchased):
		fail(c, http.StatusBadRequest, "You have already purchased this question paper")
	case errors.Is(err, papers.ErrInsufficientBalance):
		fail(c, http.StatusBadRequest, "Insufficient wallet balance")
	case errors.Is(err, papers.ErrNotPurchased):
		fail(c, http.StatusForbidden, "You have not purchased this question paper")
	case errors.Is(err, notes.ErrNotAvailable):
		fail(c, http.StatusForbidden, "This note is not available for download")
	case errors.Is(err, notes.ErrInvalidInput),
		errors.Is(err, papers.ErrInvalidInput),
		errors.Is(err, users.ErrInvalidProfile),
		errors.Is(err, users.ErrInvalidIdentity):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrDuplicateEmail):
		fail(c, http.StatusConflict, "Email already exists")
	case errors.Is(err, users.ErrCredentialConflict):
		fail(c, http.StatusConflict, "User already exists with different credentials")
	case errors.Is(err, users.ErrWalletRestoreFailed):
		fail(c, http.StatusInternalServerError, "Failed to update wallet")
	default:
		h.logger.Error(operation, zap.Error(err))
		fail(c, http.StatusInternalServerError, "Something went wrong")
	}
}
