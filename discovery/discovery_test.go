package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvfeed/models"
)

func searchServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count := pageSize
		if start+count > total {
			count = total - start
		}
		if count < 0 {
			count = 0
		}
		var rows []string
		for i := 0; i < count; i++ {
			rows = append(rows, fmt.Sprintf(`{"symbol":"SYM%d","exchange":"TEST"}`, start+i))
		}
		remaining := 0
		if start == 0 && total > pageSize {
			remaining = total - pageSize
		}
		fmt.Fprintf(w, `{"symbols_remaining":%d,"symbols":[%s]}`, remaining, strings.Join(rows, ","))
	}))
}

func TestSearchSymbols_SinglePage(t *testing.T) {
	srv := searchServer(t, 7)
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints("", srv.URL, "")
	got, err := c.SearchSymbols(context.Background(), "SYM", "TEST")
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestSearchSymbols_PaginatesRemainder(t *testing.T) {
	srv := searchServer(t, 120)
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints("", srv.URL, "")
	got, err := c.SearchSymbols(context.Background(), "SYM", "TEST")
	require.NoError(t, err)
	assert.Len(t, got, 120)

	seen := make(map[string]struct{}, len(got))
	for _, s := range got {
		seen[s.Symbol] = struct{}{}
	}
	assert.Len(t, seen, 120, "no page fetched twice")
}

func TestLogin_MissingCookiesIsLoginError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"","user":{}}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	_, err := c.Login(context.Background(), "user", "pass")
	require.Error(t, err)
	var tvErr *models.Error
	require.ErrorAs(t, err, &tvErr)
	assert.Equal(t, models.ErrLogin, tvErr.Kind)
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user", r.Form.Get("username"))
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sid"})
		http.SetCookie(w, &http.Cookie{Name: "sessionid_sign", Value: "sig"})
		fmt.Fprint(w, `{"error":"","user":{"id":7,"username":"user","auth_token":"tok123","is_pro":true}}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	u, err := c.Login(context.Background(), "user", "pass")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "tok123", u.AuthToken)
	assert.Equal(t, "sid", u.Session)
	assert.Equal(t, "sig", u.Signature)
}

func TestLogin_TwoFactorRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sid"})
		http.SetCookie(w, &http.Cookie{Name: "sessionid_sign", Value: "sig"})
		fmt.Fprint(w, `{"error":"2FA_required"}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	_, err := c.Login(context.Background(), "user", "pass")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2FA")
}

func TestLogin_EmptyCredentialsRejected(t *testing.T) {
	c := New(zerolog.Nop())
	_, err := c.Login(context.Background(), "", "")
	require.Error(t, err)
}

func TestFingerprintToken_NeverContainsToken(t *testing.T) {
	token := "super-secret-auth-token"
	fp := FingerprintToken(token)
	assert.NotEmpty(t, fp)
	assert.NotContains(t, fp, token)
	assert.Empty(t, FingerprintToken(""))
}

func TestChartToken_MissingTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	_, err := c.ChartToken(context.Background(), "layout", &User{ID: 1})
	require.Error(t, err)
}

func TestLoginOTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "123456", r.Form.Get("code"))
		assert.Contains(t, r.Header.Get("Cookie"), "sessionid=sid")
		fmt.Fprint(w, `{"error":"","user":{"id":7,"username":"user","auth_token":"tok456"}}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	u, err := c.LoginOTP(context.Background(), "sid", "sig", "123456")
	require.NoError(t, err)
	assert.Equal(t, "tok456", u.AuthToken)
	assert.Equal(t, "sid", u.Session)
}

func TestLoginOTP_BadCodeIsLoginError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(zerolog.Nop()).WithEndpoints(srv.URL, "", "")
	_, err := c.LoginOTP(context.Background(), "sid", "sig", "000000")
	require.Error(t, err)
	var tvErr *models.Error
	require.ErrorAs(t, err, &tvErr)
	assert.Equal(t, models.ErrLogin, tvErr.Kind)

	_, err = c.LoginOTP(context.Background(), "sid", "sig", "")
	require.Error(t, err)
}
