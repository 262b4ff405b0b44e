package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/obsliveshare/relay/internal/auth"
)

// GitHubOAuthConfig configures the GitHub OAuth redirect dance (spec
// §4.7, §6). Grounded on the corpus's OAuth exchange idiom, adapted to
// mint a signed identity token instead of a database-backed session.
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	RedirectURL  string // where the browser lands with ?identityToken=... after success
}

func (g *Gateway) hasGitHubAuth() bool {
	return g.github.ClientID != "" && g.github.ClientSecret != ""
}

// handleGitHubAuth redirects the browser to GitHub's authorize endpoint.
// The state parameter is a self-signed nonce (HMAC over a random value and
// a timestamp) so the callback can validate it without server-side
// session storage, per the "no global mutable state" design note.
func (g *Gateway) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if !g.hasGitHubAuth() {
		writeError(w, http.StatusServiceUnavailable, "github auth not configured")
		return
	}
	state, err := g.signState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build oauth state")
		return
	}
	params := url.Values{
		"client_id":    {g.github.ClientID},
		"redirect_uri": {g.github.CallbackURL},
		"scope":        {"read:user user:email"},
		"state":        {state},
	}
	http.Redirect(w, r, "https://github.com/login/oauth/authorize?"+params.Encode(), http.StatusFound)
}

func (g *Gateway) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if !g.hasGitHubAuth() {
		writeError(w, http.StatusServiceUnavailable, "github auth not configured")
		return
	}
	state := r.URL.Query().Get("state")
	if !g.verifyState(state) {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	user, err := g.exchangeGitHubCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusBadGateway, "github exchange failed")
		return
	}

	now := time.Now()
	token, err := g.identity.Issue(auth.IdentityClaims{
		Subject:     fmt.Sprintf("github:%d", user.ID),
		Username:    user.Login,
		DisplayName: displayNameOr(user.Name, user.Login),
		AvatarURL:   user.AvatarURL,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(24 * time.Hour).Unix(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue identity token")
		return
	}

	if g.github.RedirectURL != "" {
		http.Redirect(w, r, g.github.RedirectURL+"?identityToken="+url.QueryEscape(token), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identityToken": token})
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (g *Gateway) exchangeGitHubCode(ctx context.Context, code string) (*githubUser, error) {
	data := url.Values{
		"client_id":     {g.github.ClientID},
		"client_secret": {g.github.ClientSecret},
		"code":          {code},
		"redirect_uri":  {g.github.CallbackURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://github.com/login/oauth/access_token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.Error != "" || tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("github token exchange failed: %s", tokenResp.Error)
	}

	userReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	if err != nil {
		return nil, err
	}
	userReq.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
	userReq.Header.Set("Accept", "application/vnd.github.v3+json")

	userResp, err := client.Do(userReq)
	if err != nil {
		return nil, err
	}
	defer userResp.Body.Close()

	var user githubUser
	if err := json.NewDecoder(userResp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func displayNameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// signState and verifyState implement a stateless CSRF token: a random
// nonce plus an HMAC over it, both base64url-encoded and dot-joined, so
// the callback can validate the state without server-side storage.
func (g *Gateway) signState() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(nonce)
	mac := hmac.New(sha256.New, g.stateSecret)
	mac.Write([]byte(encoded))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return encoded + "." + sig, nil
}

func (g *Gateway) verifyState(state string) bool {
	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return false
	}
	mac := hmac.New(sha256.New, g.stateSecret)
	mac.Write([]byte(parts[0]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(parts[1]))
}
