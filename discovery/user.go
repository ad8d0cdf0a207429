package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/crypto/bcrypt"

	"tvfeed/models"
)

// User is the outcome of a cookie login: the opaque auth token the
// streaming core consumes, plus the session cookies the other HTTPS
// endpoints require.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AuthToken   string `json:"auth_token"`
	SessionHash string `json:"session_hash"`
	IsPro       bool   `json:"is_pro"`

	// Session cookies; not part of the signin JSON body.
	Session   string `json:"-"`
	Signature string `json:"-"`
}

func (u *User) cookie() string {
	return fmt.Sprintf("sessionid=%s; sessionid_sign=%s", u.Session, u.Signature)
}

type loginResponse struct {
	Error string `json:"error"`
	User  User   `json:"user"`
}

// Login performs the username/password cookie login. Accounts with 2FA
// enabled additionally need the TOTP code passed to LoginOTP: for them
// Login returns an ErrLogin mentioning 2FA together with a User holding
// only the Session and Signature cookies that LoginOTP takes.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, models.NewError(models.ErrLogin, "discovery: username or password is empty")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("remember", "true")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/accounts/signin/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "discovery: build signin request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrLogin, "discovery: signin request failed", err)
	}
	defer resp.Body.Close()

	var session, signature string
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case "sessionid":
			session = ck.Value
		case "sessionid_sign":
			signature = ck.Value
		}
	}
	if session == "" || signature == "" {
		return nil, models.NewError(models.ErrLogin, "discovery: invalid username or password")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapError(models.ErrLogin, "discovery: read signin response", err)
	}
	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, models.WrapError(models.ErrProtocolParse, "discovery: decode signin response", err)
	}
	switch lr.Error {
	case "":
	case "2FA_required":
		return &User{Session: session, Signature: signature}, models.NewError(models.ErrLogin, "discovery: 2FA required for this account")
	default:
		return nil, models.NewError(models.ErrLogin, "discovery: invalid username or password")
	}

	u := lr.User
	u.Session = session
	u.Signature = signature
	c.log.Info().Str("username", u.Username).Str("token", FingerprintToken(u.AuthToken)).Msg("discovery: logged in")
	return &u, nil
}

// LoginOTP completes a login on a 2FA-enabled account: it posts the TOTP
// code under the session cookies the failed Login handed back. session and
// signature come from the sessionid/sessionid_sign cookies of that
// response.
func (c *Client) LoginOTP(ctx context.Context, session, signature, code string) (*User, error) {
	if code == "" {
		return nil, models.NewError(models.ErrLogin, "discovery: TOTP code is empty")
	}

	form := url.Values{}
	form.Set("code", code)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/accounts/two-factor/signin/totp/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "discovery: build totp request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Cookie", fmt.Sprintf("sessionid=%s; sessionid_sign=%s", session, signature))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrLogin, "discovery: totp request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.ErrLogin, "discovery: TOTP authentication failed")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapError(models.ErrLogin, "discovery: read totp response", err)
	}
	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, models.WrapError(models.ErrProtocolParse, "discovery: decode totp response", err)
	}
	if lr.Error != "" {
		return nil, models.NewError(models.ErrLogin, "discovery: invalid TOTP code")
	}

	u := lr.User
	u.Session = session
	u.Signature = signature
	return &u, nil
}

// FingerprintToken returns a short bcrypt-derived tag for token material,
// so logs and crash dumps can show that a token was present without ever
// containing it. Each call uses a fresh bcrypt salt, so two fingerprints of
// the same token differ and cannot be matched against each other.
func FingerprintToken(token string) string {
	if token == "" {
		return ""
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		return "fingerprint-unavailable"
	}
	// Keep only the last 16 characters, taken from the hash section.
	s := string(digest)
	if len(s) > 16 {
		s = s[len(s)-16:]
	}
	return s
}
