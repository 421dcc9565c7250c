package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"saas_template/internal/auth"
	"saas_template/internal/jobs"
	"saas_template/internal/middleware"
	"saas_template/internal/models"
	"saas_template/internal/storage"
	"saas_template/internal/utils"
)

const maxUserBody = 16 << 10

var userLogger = utils.NewLogger("users")

// storedRole resolves the caller's role from the users table
func (d *Dependencies) storedRole(ctx context.Context, authID string) (auth.Role, error) {
	user, err := d.Users.GetByAuthID(ctx, authID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", middleware.ErrUnknownUser
	}
	if err != nil {
		return "", err
	}
	return auth.RoleFor(user.IsAdmin), nil
}

// handleCurrentUser returns the caller's stored account
func (d *Dependencies) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	authID, _ := middleware.GetUserID(r.Context())

	user, err := d.Users.GetByAuthID(r.Context(), authID)
	if errors.Is(err, storage.ErrUserNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "User not found in database")
		return
	}
	if err != nil {
		userLogger.Error("Failed to load user", "auth_id", authID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch user")
		return
	}
	utils.RespondWithData(w, http.StatusOK, user.DTO())
}

type syncUserRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	ImageURL  *string `json:"imageUrl"`
}

type syncUserResponse struct {
	UserID  string `json:"userId"`
	Created bool   `json:"created"`
}

// handleSyncUser creates or refreshes the caller's account from the token
// email and the profile fields in the body. New accounts get a welcome email.
func (d *Dependencies) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, _ := middleware.GetClaims(r.Context())
	if claims == nil || strings.TrimSpace(claims.Email) == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "User has no email address")
		return
	}

	var req syncUserRequest
	body := http.MaxBytesReader(w, r.Body, maxUserBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Invalid JSON body")
		return
	}

	user := &models.User{
		AuthID:    claims.UserID(),
		Email:     strings.TrimSpace(claims.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		ImageURL:  req.ImageURL,
	}
	created, err := d.Users.Sync(r.Context(), user)
	if err != nil {
		userLogger.Error("Failed to sync user", "auth_id", user.AuthID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Error syncing user")
		return
	}

	if created {
		userLogger.Info("User created", "user_id", user.ID, "email", user.Email)
		welcome := jobs.WelcomeEmailData{Email: user.Email, FirstName: user.FirstName}
		if _, err := jobs.EnqueueWelcomeEmail(r.Context(), d.Queues, welcome); err != nil {
			// The account exists; a missed welcome email is not worth failing the sync.
			userLogger.Error("Failed to enqueue welcome email", "user_id", user.ID, "error", err)
		}
	}

	utils.RespondWithData(w, http.StatusOK, syncUserResponse{UserID: user.ID, Created: created})
}

// handleListUsers lists every account sorted by email
func (d *Dependencies) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	users, err := d.Users.List(r.Context())
	if err != nil {
		adminLogger.Error("Failed to list users", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch users")
		return
	}
	views := make([]models.AdminUserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.AdminView())
	}
	utils.RespondWithData(w, http.StatusOK, views)
}

// setAdminRequest keeps loose types so wrong ones get a field-level message
type setAdminRequest struct {
	UserID  interface{} `json:"userId"`
	IsAdmin interface{} `json:"isAdmin"`
}

type setAdminResponse struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
}

// handleSetAdmin grants or revokes admin on an account by its id
func (d *Dependencies) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req setAdminRequest
	body := http.MaxBytesReader(w, r.Body, maxUserBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Invalid JSON body")
		return
	}
	userID, _ := req.UserID.(string)
	if userID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "userId is required")
		return
	}
	isAdmin, ok := req.IsAdmin.(bool)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "isAdmin must be a boolean")
		return
	}

	user, err := d.Users.SetAdmin(r.Context(), userID, isAdmin)
	if errors.Is(err, storage.ErrUserNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "User not found")
		return
	}
	if err != nil {
		adminLogger.Error("Failed to update admin status", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to update user")
		return
	}

	caller, _ := middleware.GetUserID(r.Context())
	adminLogger.Info("Admin status changed", "user_id", user.ID, "is_admin", user.IsAdmin, "by", caller)
	utils.RespondWithData(w, http.StatusOK, setAdminResponse{UserID: user.ID, IsAdmin: user.IsAdmin})
}

type unsubscribeResponse struct {
	Message string `json:"message"`
}

// handleUnsubscribe turns off email for ?email=; public so it works from a
// mail client link
func (d *Dependencies) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	addr := strings.TrimSpace(r.URL.Query().Get("email"))
	if addr == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Email address is required.")
		return
	}

	err := d.Users.Unsubscribe(r.Context(), addr)
	if errors.Is(err, storage.ErrUserNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "We couldn't find an account with that email address.")
		return
	}
	if err != nil {
		userLogger.Error("Failed to unsubscribe", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "An error occurred. Please try again later.")
		return
	}
	utils.RespondWithData(w, http.StatusOK, unsubscribeResponse{
		Message: "You have been successfully unsubscribed from email notifications.",
	})
}
