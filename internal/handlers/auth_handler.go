package handlers

import (
	"html/template"
	"log"
	"net/http"

	"journey/internal/progress"
	"journey/internal/security"
	"journey/internal/service"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService          *service.AuthService
	emailService         *service.EmailService
	stores               *progress.Registry
	templates            *template.Template
	oauthProviders       map[string]OAuthProvider
	oauthRedirectBaseURL string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, emailService *service.EmailService, stores *progress.Registry, templates *template.Template, oauthProviders map[string]OAuthProvider, oauthRedirectBaseURL string) *AuthHandler {
	return &AuthHandler{
		authService:          authService,
		emailService:         emailService,
		stores:               stores,
		templates:            templates,
		oauthProviders:       oauthProviders,
		oauthRedirectBaseURL: oauthRedirectBaseURL,
	}
}

// Home redirects signed-in users to their journey and everyone else to sign-in
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if cookie, err := r.Cookie(security.SessionCookieName); err == nil {
		if _, err := h.authService.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/journey", http.StatusSeeOther)
			return
		}
	}
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

// ShowSignIn renders the sign-in page
func (h *AuthHandler) ShowSignIn(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(security.SessionCookieName); err == nil {
		if _, err := h.authService.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/journey", http.StatusSeeOther)
			return
		}
	}

	h.renderSignIn(w, r, "")
}

func (h *AuthHandler) renderSignIn(w http.ResponseWriter, r *http.Request, errorMsg string) {
	data := map[string]interface{}{
		"Title":          "Sign In - Journey",
		"Error":          errorMsg,
		"OAuthProviders": h.oauthProviderViews(),
	}
	if err := h.templates.ExecuteTemplate(w, "sign_in.tmpl", data); err != nil {
		log.Printf("Error rendering sign-in template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// SignIn handles sign-in form submission
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, ErrInvalidFormData, http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")

	session, _, err := h.authService.Login(email, password)
	if err != nil {
		h.renderSignIn(w, r, "Invalid email or password")
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(r, security.SessionCookieName, session.ID, session.ExpiresAt))
	http.Redirect(w, r, "/journey", http.StatusSeeOther)
}

// ShowSignUp renders the sign-up page
func (h *AuthHandler) ShowSignUp(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(security.SessionCookieName); err == nil {
		if _, err := h.authService.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/journey", http.StatusSeeOther)
			return
		}
	}

	data := map[string]interface{}{
		"Title":          "Sign Up - Journey",
		"OAuthProviders": h.oauthProviderViews(),
	}
	if err := h.templates.ExecuteTemplate(w, "sign_up.tmpl", data); err != nil {
		log.Printf("Error rendering sign-up template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// SignUp handles sign-up form submission
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, ErrInvalidFormData, http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	name := r.FormValue("name")

	user, err := h.authService.Register(email, password, name)
	if err != nil {
		data := map[string]interface{}{
			"Title":          "Sign Up - Journey",
			"Error":          err.Error(),
			"Email":          email,
			"Name":           name,
			"OAuthProviders": h.oauthProviderViews(),
		}
		if err := h.templates.ExecuteTemplate(w, "sign_up.tmpl", data); err != nil {
			log.Printf("Error rendering sign-up template: %v", err)
			http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
		}
		return
	}

	if h.emailService != nil {
		if err := h.emailService.SendWelcomeEmail(r.Context(), user.Email, user.Name); err != nil {
			log.Printf("Warning: failed to send welcome email to %s: %v", user.Email, err)
		}
	}

	// Auto sign-in after registration
	session, _, err := h.authService.Login(email, password)
	if err != nil {
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, security.CreateSessionCookie(r, security.SessionCookieName, session.ID, session.ExpiresAt))
	http.Redirect(w, r, "/journey", http.StatusSeeOther)
}

// SignOut handles sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(security.SessionCookieName); err == nil {
		_ = h.authService.Logout(cookie.Value)
		h.stores.Release(cookie.Value)
	}

	http.SetCookie(w, security.CreateDeleteCookie(r, security.SessionCookieName))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ShowForgotPassword renders the forgot-password page
func (h *AuthHandler) ShowForgotPassword(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Title": "Forgot Password - Journey",
	}
	if err := h.templates.ExecuteTemplate(w, "forgot_password.tmpl", data); err != nil {
		log.Printf("Error rendering forgot-password template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// ForgotPassword handles the forgot-password form. The response is the same
// whether or not the address is known.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, ErrInvalidFormData, http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	if err := h.authService.RequestPasswordReset(r.Context(), h.emailService, email); err != nil {
		log.Printf("Error requesting password reset for %s: %v", email, err)
	}

	data := map[string]interface{}{
		"Title":   "Forgot Password - Journey",
		"Message": "If an account exists for that address, a reset link has been sent.",
	}
	if err := h.templates.ExecuteTemplate(w, "forgot_password.tmpl", data); err != nil {
		log.Printf("Error rendering forgot-password template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// ShowResetPassword renders the reset-password page for a token
func (h *AuthHandler) ShowResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	valid, err := h.authService.ValidatePasswordResetToken(token)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error validating reset token", err)
		return
	}

	data := map[string]interface{}{
		"Title": "Reset Password - Journey",
		"Token": token,
	}
	if !valid {
		data["Error"] = "This reset link is invalid or has expired."
	}
	if err := h.templates.ExecuteTemplate(w, "reset_password.tmpl", data); err != nil {
		log.Printf("Error rendering reset-password template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// ResetPassword handles the reset-password form submission
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, ErrInvalidFormData, http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	password := r.FormValue("password")

	if err := h.authService.ResetPassword(token, password); err != nil {
		data := map[string]interface{}{
			"Title": "Reset Password - Journey",
			"Token": token,
			"Error": err.Error(),
		}
		if err := h.templates.ExecuteTemplate(w, "reset_password.tmpl", data); err != nil {
			log.Printf("Error rendering reset-password template: %v", err)
			http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
		}
		return
	}

	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}
