// Package handler contains the HTTP request handlers for the recipe API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc: a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (path params, query, body)
// 2. Call the service layer with the authenticated caller
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic: they are the "glue" between
// HTTP and the services.
package handler

import (
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/service"
)

// AdminHandler serves the staff-only user management pages under /admin.
// Requests reach it only through auth.RequireStaff.
//
// WHY A STRUCT?
// Templates are parsed once at startup (expensive) and reused on every
// request (cheap), and the service and logger are injected without globals.
type AdminHandler struct {
	users  *service.UserService
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewAdminHandler parses the admin templates from files.
//
// TEMPLATE PARSING:
// Each page is parsed together with "base.html" into its own template set:
//   - base.html defines the page frame with a {{template "content" .}} placeholder
//   - users.html / user_form.html define {{define "content"}}...{{end}}
//
// Separate sets are needed because every page defines "content"; parsing
// them all into one set would let the last one win.
func NewAdminHandler(users *service.UserService, files fs.FS, logger *slog.Logger) (*AdminHandler, error) {
	pages := make(map[string]*template.Template)
	for _, page := range []string{"users.html", "user_form.html"} {
		tmpl, err := template.ParseFS(files, "templates/base.html", "templates/"+page)
		if err != nil {
			return nil, err
		}
		pages[page] = tmpl
	}

	return &AdminHandler{
		users:  users,
		pages:  pages,
		logger: logger,
	}, nil
}

// adminUserForm is the user form as posted by the browser. Unchecked
// checkboxes are simply absent, which decodes to false.
type adminUserForm struct {
	Email    string `schema:"email"`
	Name     string `schema:"name"`
	Password string `schema:"password"`
	IsActive bool   `schema:"is_active"`
	IsStaff  bool   `schema:"is_staff"`
}

func (f adminUserForm) input() service.AdminUserInput {
	return service.AdminUserInput{
		Email:    f.Email,
		Name:     f.Name,
		Password: f.Password,
		IsActive: f.IsActive,
		IsStaff:  f.IsStaff,
	}
}

type formPage struct {
	Title  string
	Staff  *model.User
	Action string
	IsNew  bool
	Form   adminUserForm
	Error  string
}

// HandleList renders every user.
//
// HTTP: GET /admin/users
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	staff, _ := auth.UserFromContext(r.Context())
	h.render(w, http.StatusOK, "users.html", map[string]any{
		"Title": "Users",
		"Staff": staff,
		"Users": users,
	})
}

// HandleNew renders an empty user form.
//
// HTTP: GET /admin/users/new
func (h *AdminHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	staff, _ := auth.UserFromContext(r.Context())
	h.render(w, http.StatusOK, "user_form.html", formPage{
		Title:  "Add user",
		Staff:  staff,
		Action: "/admin/users/new",
		IsNew:  true,
		Form:   adminUserForm{IsActive: true},
	})
}

// HandleCreate creates a user from the posted form and redirects to the
// list (POST/redirect/GET). A validation error re-renders the form.
//
// HTTP: POST /admin/users/new
func (h *AdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	staff, _ := auth.UserFromContext(r.Context())
	page := formPage{Title: "Add user", Staff: staff, Action: "/admin/users/new", IsNew: true}

	if err := h.decodeForm(w, r, &page.Form); err != nil {
		h.rerender(w, page, err)
		return
	}

	if _, err := h.users.AdminCreate(r.Context(), page.Form.input()); err != nil {
		h.rerender(w, page, err)
		return
	}
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}

// HandleEdit renders the form for an existing user.
//
// HTTP: GET /admin/users/{id}
func (h *AdminHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "user")
	if err != nil {
		h.fail(w, err)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	staff, _ := auth.UserFromContext(r.Context())
	h.render(w, http.StatusOK, "user_form.html", formPage{
		Title:  "Change user",
		Staff:  staff,
		Action: r.URL.Path,
		Form: adminUserForm{
			Email:    user.Email,
			Name:     user.Name,
			IsActive: user.IsActive,
			IsStaff:  user.IsStaff,
		},
	})
}

// HandleUpdate saves the posted form onto an existing user. An empty
// password field keeps the current password.
//
// HTTP: POST /admin/users/{id}
func (h *AdminHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "user")
	if err != nil {
		h.fail(w, err)
		return
	}

	staff, _ := auth.UserFromContext(r.Context())
	page := formPage{Title: "Change user", Staff: staff, Action: r.URL.Path}

	if err := h.decodeForm(w, r, &page.Form); err != nil {
		h.rerender(w, page, err)
		return
	}

	if _, err := h.users.AdminUpdate(r.Context(), id, page.Form.input()); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			h.fail(w, err)
			return
		}
		h.rerender(w, page, err)
		return
	}
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}

func (h *AdminHandler) decodeForm(w http.ResponseWriter, r *http.Request, dst *adminUserForm) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return apperror.ValidationFailed("", "malformed form body")
	}
	if err := formDecoder.Decode(dst, r.PostForm); err != nil {
		return apperror.ValidationFailed("", err.Error())
	}
	return nil
}

// rerender shows the form again with the error message. The password is
// never echoed back.
func (h *AdminHandler) rerender(w http.ResponseWriter, page formPage, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		h.fail(w, err)
		return
	}
	page.Form.Password = ""
	page.Error = appErr.Message
	if appErr.Field != "" {
		page.Error = appErr.Field + ": " + appErr.Message
	}
	h.render(w, http.StatusBadRequest, "user_form.html", page)
}

// fail answers with a plain-text error page for the status the error maps to.
func (h *AdminHandler) fail(w http.ResponseWriter, err error) {
	status, _ := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("admin request failed", slog.Any("error", err))
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *AdminHandler) render(w http.ResponseWriter, status int, page string, data any) {
	// Set content type header BEFORE writing the body
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := h.pages[page].ExecuteTemplate(w, "base", data); err != nil {
		// The status line is already out; the page will simply be truncated.
		h.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
	}
}
