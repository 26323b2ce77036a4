package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/service"
)

// stateCookie carries the OAuth state between /login and /callback.
const stateCookie = "oauth_state"

// GitHubExchanger is the part of auth.GitHubProvider the handler needs.
// Tests swap in a fake.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// UserHandler serves the /user endpoints: registration, token issue and
// revoke, the caller's profile, and GitHub sign-in.
//
// HANDLER RESPONSIBILITIES:
//   - HandleCreate         → POST   /user/create
//   - HandleToken          → POST   /user/token
//   - HandleLogout         → DELETE /user/token
//   - HandleMe             → GET    /user/me
//   - HandleUpdateMe       → PATCH  /user/me
//   - HandleGitHubLogin    → GET    /user/github/login
//   - HandleGitHubCallback → GET    /user/github/callback
type UserHandler struct {
	users  *service.UserService
	auth   *service.AuthService
	github GitHubExchanger // nil when GitHub sign-in is not configured
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler. github may be nil.
func NewUserHandler(users *service.UserService, authSvc *service.AuthService, github GitHubExchanger, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		auth:   authSvc,
		github: github,
		logger: logger,
	}
}

// userView is the public shape of a user. Ids, flags and the password hash
// are never returned.
type userView struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func newUserView(u *model.User) userView {
	return userView{Email: u.Email, Name: u.Name}
}

type createUserRequest struct {
	Email    string `json:"email"    schema:"email"`
	Password string `json:"password" schema:"password"`
	Name     string `json:"name"     schema:"name"`
}

// HandleCreate registers a new user.
//
// HTTP: POST /user/create
// REQUEST BODY: {"email": "bob@mail.com", "password": "secret", "name": "Bob"}
// RESPONSE: 201 {"email": "bob@mail.com", "name": "Bob"}
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(user))
}

type tokenRequest struct {
	Email    string `json:"email"    schema:"email"`
	Password string `json:"password" schema:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleToken exchanges an email and password for the user's token.
// Calling it again replaces the previous token.
//
// HTTP: POST /user/token
// RESPONSE: 200 {"token": "..."}, or 400 on bad credentials
func (h *UserHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Email == "" {
		writeError(w, h.logger, apperror.ValidationFailed("email", "this field is required"))
		return
	}
	if req.Password == "" {
		writeError(w, h.logger, apperror.ValidationFailed("password", "this field is required"))
		return
	}

	key, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: key})
}

// HandleLogout revokes the caller's token.
//
// HTTP: DELETE /user/token
// Auth: Required
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user := mustUser(r)
	if err := h.auth.Logout(r.Context(), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the caller's profile.
//
// HTTP: GET /user/me
// Auth: Required
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserView(mustUser(r)))
}

// updateMeRequest uses pointers so an omitted field stays untouched.
type updateMeRequest struct {
	Name     *string `json:"name"     schema:"name"`
	Password *string `json:"password" schema:"password"`
}

// HandleUpdateMe changes the caller's name and/or password. Email is
// ignored if sent.
//
// HTTP: PATCH /user/me
// Auth: Required
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), mustUser(r), req.Name, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(updated))
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /user/github/login
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When GitHub calls back, HandleGitHubCallback verifies the state matches.
// This proves the callback was initiated by this server, not a CSRF attacker.
func (h *UserHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/user/github",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow and answers with an API
// token, the same shape as POST /user/token.
//
// HTTP: GET /user/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile with a verified email
//  3. Find or create the user by that email
//  4. Issue the user's token
func (h *UserHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || query.Get("state") != cookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/user/github", MaxAge: -1})

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		writeError(w, h.logger, apperror.Unauthorized("GitHub authorization was denied"))
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.Any("error", err))
		writeError(w, h.logger, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	key, err := h.auth.LoginGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: key})
}

// mustUser returns the authenticated caller. Only call it behind
// auth.RequireToken, which guarantees a user is present.
func mustUser(r *http.Request) *model.User {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		panic("handler: no authenticated user in context; route is missing auth.RequireToken")
	}
	return user
}
