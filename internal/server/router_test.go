package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/notesmate/backend/internal/auth"
	"github.com/notesmate/backend/internal/notes"
	"github.com/notesmate/backend/internal/papers"
	"github.com/notesmate/backend/internal/storage"
	"github.com/notesmate/backend/internal/users"
	"gorm.io/gorm"
)

const (
	testAdminEmail    = "admin@notesmate.app"
	testAdminPassword = "admin-password"

	studentToken = "google-token-student"
)

var studentClaims = auth.IdentityClaims{
	Subject: "google-sub-student",
	Email:   "student@example.edu",
	Name:    "Student One",
}

type stubVerifier struct {
	claims map[string]auth.IdentityClaims
}

func (s stubVerifier) Verify(_ context.Context, token string) (auth.IdentityClaims, error) {
	claims, ok := s.claims[token]
	if !ok {
		return auth.IdentityClaims{}, errors.New("unknown token")
	}
	return claims, nil
}

type stubUploader struct {
	result    storage.UploadResult
	err       error
	filenames []string
}

func (s *stubUploader) Upload(_ context.Context, file io.Reader, filename string) (storage.UploadResult, error) {
	if _, err := io.Copy(io.Discard, file); err != nil {
		return storage.UploadResult{}, err
	}
	s.filenames = append(s.filenames, filename)
	if s.err != nil {
		return storage.UploadResult{}, s.err
	}
	return s.result, nil
}

type seqIDProvider struct {
	prefix string
	n      int
}

func (p *seqIDProvider) NewID() (string, error) {
	p.n++
	return fmt.Sprintf("%s-%d", p.prefix, p.n), nil
}

type testEnv struct {
	handler  http.Handler
	db       *gorm.DB
	uploader *stubUploader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:notesmate_server_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&users.User{}, &users.Purchase{}, &users.RevokedIdentity{},
		&notes.Note{}, &papers.QuestionPaper{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		AdminEmail: testAdminEmail,
		IDProvider: &seqIDProvider{prefix: "user"},
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: &seqIDProvider{prefix: "note"},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	papersService, err := papers.NewService(papers.ServiceConfig{
		Database:   db,
		IDProvider: &seqIDProvider{prefix: "paper"},
	})
	if err != nil {
		t.Fatalf("failed to construct papers service: %v", err)
	}

	passwordHash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	uploader := &stubUploader{
		result: storage.UploadResult{
			URL:      "https://res.example.com/stored.pdf",
			PublicID: "notes_mate/stored",
		},
	}

	handler, err := NewHTTPHandler(Dependencies{
		Verifier: stubVerifier{claims: map[string]auth.IdentityClaims{
			studentToken: studentClaims,
		}},
		Tokens: auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte("test-signing-secret"),
			Issuer:        "notesmate-auth",
			Audience:      "notesmate-api",
		}),
		Users:             usersService,
		Notes:             notesService,
		Papers:            papersService,
		Uploader:          uploader,
		AdminEmail:        testAdminEmail,
		AdminPasswordHash: passwordHash,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{handler: handler, db: db, uploader: uploader}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e *testEnv) doMultipart(t *testing.T, method, path, token string, fields map[string]string, fileField, filename, fileContentType, fileContent string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	if fileField != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
		header.Set("Content-Type", fileContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := io.Copy(part, strings.NewReader(fileContent)); err != nil {
			t.Fatalf("failed to write file content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// adminToken logs in through the HTTP surface and returns the session token.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()

	recorder := e.do(t, http.MethodPost, "/api/auth/admin/login", "", gin.H{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin login failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing data in login response: %v", payload)
	}
	token, ok := data["token"].(string)
	if !ok || token == "" {
		t.Fatalf("missing token in login response: %v", data)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", payload)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/verify", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload)
	}
	if payload["message"] != "No token provided" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestProtectedRoutesRejectUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/verify", "garbage-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["message"] != "Invalid or expired token" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestVerifySyncsProfileWithDefaultWallet(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/verify", studentToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	data := payload["data"].(map[string]interface{})
	if data["email"] != "student@example.edu" {
		t.Fatalf("unexpected email %v", data["email"])
	}
	if data["wallet"] != float64(users.DefaultWalletBalance) {
		t.Fatalf("unexpected wallet %v", data["wallet"])
	}
	if data["isAdmin"] != false {
		t.Fatalf("unexpected isAdmin %v", data["isAdmin"])
	}
}

func TestAdminLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/admin/login", "", gin.H{
		"email":    testAdminEmail,
		"password": "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/admin/login", "", gin.H{
		"email":    "someone-else@example.edu",
		"password": testAdminPassword,
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/admin/login", "", gin.H{"email": testAdminEmail})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d for missing password", recorder.Code)
	}
}

func TestAdminLoginIssuesUsableSessionToken(t *testing.T) {
	env := newTestEnv(t)

	token := env.adminToken(t)

	recorder := env.do(t, http.MethodGet, "/api/admin/users", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/admin/users", studentToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["message"] != "Access denied. Admin privileges required." {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestRegisterAndDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "fresh@example.edu",
		"name":     "Fresh",
		"semester": "2",
		"branch":   "ECE",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	data := payload["data"].(map[string]interface{})
	if data["wallet"] != float64(users.DefaultWalletBalance) {
		t.Fatalf("unexpected wallet %v", data["wallet"])
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "fresh@example.edu",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestUpdateProfileOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPut, "/api/auth/profile", studentToken, gin.H{
		"semester": "6",
		"branch":   "ISE",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	data := payload["data"].(map[string]interface{})
	if data["semester"] != "6" || data["branch"] != "ISE" {
		t.Fatalf("unexpected profile %v", data)
	}

	recorder = env.do(t, http.MethodPut, "/api/auth/profile", studentToken, gin.H{
		"semester": "13",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestDeletedUserIsLockedOut(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	if recorder := env.do(t, http.MethodPost, "/api/auth/verify", studentToken, nil); recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}

	var student users.User
	if err := env.db.Where("google_uid = ?", studentClaims.Subject).Take(&student).Error; err != nil {
		t.Fatalf("failed to load student: %v", err)
	}

	recorder := env.do(t, http.MethodDelete, "/api/admin/users/"+student.ID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/verify", studentToken, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	payload := decodeEnvelope(t, recorder)
	if payload["message"] != "Account has been removed" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestRestoreWalletOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	if recorder := env.do(t, http.MethodPost, "/api/auth/verify", studentToken, nil); recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var student users.User
	if err := env.db.Where("google_uid = ?", studentClaims.Subject).Take(&student).Error; err != nil {
		t.Fatalf("failed to load student: %v", err)
	}
	if err := env.db.Model(&users.User{}).Where("id = ?", student.ID).Update("wallet", 5).Error; err != nil {
		t.Fatalf("failed to drain wallet: %v", err)
	}

	recorder := env.do(t, http.MethodPatch, "/api/admin/users/"+student.ID+"/restore-wallet", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeEnvelope(t, recorder)
	data := payload["data"].(map[string]interface{})
	if data["wallet"] != float64(users.DefaultWalletBalance) {
		t.Fatalf("unexpected wallet %v", data["wallet"])
	}

	recorder = env.do(t, http.MethodPatch, "/api/admin/users/unknown/restore-wallet", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}
