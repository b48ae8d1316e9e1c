package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"carelog/internal/security"
	"carelog/internal/service"
)

const oauthCookieTTL = 10 * time.Minute

// OAuthProvider defines provider configuration and metadata
type OAuthProvider struct {
	Name        string
	Label       string
	Config      *oauth2.Config
	UserInfoURL string
	AuthParams  map[string]string
}

func (p OAuthProvider) configured() bool {
	return p.Config != nil && p.Config.ClientID != "" && p.Config.ClientSecret != ""
}

type OAuthProviderView struct {
	Name     string
	Label    string
	URL      string
	CSSClass string
}

func (h *AuthHandler) oauthProviderViews() []OAuthProviderView {
	var views []OAuthProviderView
	for key, provider := range h.oauthProviders {
		if !provider.configured() {
			continue
		}
		views = append(views, OAuthProviderView{
			Name:     key,
			Label:    provider.Label,
			URL:      fmt.Sprintf("/auth/%s/start", key),
			CSSClass: "btn-" + key,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// StartOAuth initiates the OAuth flow for a provider
func (h *AuthHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	providerKey := r.PathValue("provider")
	provider, ok := h.oauthProviders[providerKey]
	if !ok || !provider.configured() {
		h.oauthError(w, "OAuth provider not configured", http.StatusBadRequest)
		return
	}

	state := security.GenerateSessionID()
	setTempCookie(w, r, "oauth_state", state, oauthCookieTTL)
	setTempCookie(w, r, "oauth_provider", providerKey, oauthCookieTTL)

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	options := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	for key, value := range provider.AuthParams {
		options = append(options, oauth2.SetAuthURLParam(key, value))
	}

	http.Redirect(w, r, config.AuthCodeURL(state, options...), http.StatusFound)
}

// OAuthCallback handles the OAuth provider callback
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerKey := r.PathValue("provider")
	provider, ok := h.oauthProviders[providerKey]
	if !ok || !provider.configured() {
		h.oauthError(w, "OAuth provider not configured", http.StatusBadRequest)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if code == "" {
		h.oauthError(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		h.oauthError(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	if providerCookie, err := r.Cookie("oauth_provider"); err == nil && providerCookie.Value != providerKey {
		h.oauthError(w, "OAuth provider mismatch", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", providerKey).Msg("oauth code exchange failed")
		h.oauthError(w, "Failed to exchange OAuth code", http.StatusBadRequest)
		return
	}

	identity, err := fetchOAuthIdentity(ctx, providerKey, provider, token)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", providerKey).Msg("oauth user info failed")
		h.oauthError(w, err.Error(), http.StatusBadRequest)
		return
	}

	clearTempCookie(w, r, "oauth_state")
	clearTempCookie(w, r, "oauth_provider")

	session, user, err := h.authService.OAuthSignIn(r.Context(), identity)
	if err != nil {
		msg := "Sign in failed. Please try again."
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			msg = "This email is already linked to another sign-in method"
		case errors.Is(err, service.ErrRegistrationClosed):
			msg = "Registration is currently closed"
		default:
			h.log.Error().Err(err).Str("provider", providerKey).Msg("oauth sign in failed")
		}
		h.oauthError(w, msg, http.StatusBadRequest)
		return
	}

	p := h.registry.Anonymous(r.Context())
	if err := p.Adopt(session, user); err != nil {
		p.Close()
		h.oauthError(w, ErrInternalServerError, http.StatusInternalServerError)
		return
	}
	h.completeSignIn(w, r, p)
}

func fetchOAuthIdentity(ctx context.Context, providerKey string, provider OAuthProvider, token *oauth2.Token) (service.OAuthIdentity, error) {
	var label string
	switch providerKey {
	case "google":
		label = "Google"
	case "facebook":
		label = "Facebook"
	default:
		return service.OAuthIdentity{}, errors.New("unsupported OAuth provider")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	resp, err := client.Get(provider.UserInfoURL)
	if err != nil {
		return service.OAuthIdentity{}, fmt.Errorf("failed to fetch %s user info", label)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return service.OAuthIdentity{}, fmt.Errorf("failed to fetch %s user info", label)
	}

	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return service.OAuthIdentity{}, fmt.Errorf("failed to parse %s user info", label)
	}
	if payload.Email == "" {
		return service.OAuthIdentity{}, fmt.Errorf("%s did not share an email address", label)
	}

	return service.OAuthIdentity{Provider: providerKey, Subject: payload.ID, Email: payload.Email, Name: payload.Name}, nil
}

func (h *AuthHandler) oauthRedirectURL(r *http.Request, providerKey string) string {
	baseURL := strings.TrimSpace(h.oauthRedirectBaseURL)
	if baseURL == "" {
		scheme := "http"
		if security.IsSecureRequest(r) {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/auth/%s/callback", strings.TrimRight(baseURL, "/"), providerKey)
}

func setTempCookie(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	http.SetCookie(w, security.TempCookie(r, name, value, ttl))
}

func clearTempCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, security.CreateDeleteCookie(r, name))
}

func (h *AuthHandler) oauthError(w http.ResponseWriter, message string, status int) {
	h.renderStatus(w, status, "login.tmpl", LoginViewData{
		Title:          "Sign in - CareLog",
		Error:          message,
		OAuthProviders: h.oauthProviderViews(),
	})
}
