package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PPHub/tools/security"

	"github.com/gin-gonic/gin"
)

func ctxWith(url string, hdr map[string]string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range hdr {
		c.Request.Header.Set(k, v)
	}
	return c
}

func TestTokenSources(t *testing.T) {
	opts := DefaultOptions(security.DefaultOptions([]byte("k")))
	cases := []struct {
		name string
		url  string
		hdr  map[string]string
		want string
	}{
		{"authorization bearer", "/", map[string]string{"Authorization": "Bearer abc.def.ghi"}, "abc.def.ghi"},
		{"lowercase bearer", "/", map[string]string{"Authorization": "bearer  abc.def.ghi "}, "abc.def.ghi"},
		{"token header", "/", map[string]string{"Token": "abc.def.ghi"}, "abc.def.ghi"},
		{"token header with bearer", "/", map[string]string{"Token": "Bearer abc.def.ghi"}, "abc.def.ghi"},
		{"token header wins", "/", map[string]string{"Token": "h", "Authorization": "Bearer a"}, "h"},
		{"query", "/?token=abc.def.ghi", nil, "abc.def.ghi"},
		{"authorization without scheme", "/", map[string]string{"Authorization": "abc.def.ghi"}, ""},
		{"none", "/", nil, ""},
	}
	for _, tc := range cases {
		if got := Token(ctxWith(tc.url, tc.hdr), opts); got != tc.want {
			t.Errorf("%s: Token() = %q, want %q", tc.name, got, tc.want)
		}
	}

	noQuery := *opts
	noQuery.EnableQueryToken = false
	if got := Token(ctxWith("/?token=x", nil), &noQuery); got != "" {
		t.Errorf("query disabled: Token() = %q", got)
	}
}

func TestMiddlewareAcceptsBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := security.DefaultOptions([]byte("k"))
	tok, _, err := security.Generate(jwt, "alice", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	r.GET("/me", Middleware(DefaultOptions(jwt)), func(c *gin.Context) {
		id, _ := IdentityOf(c)
		c.String(http.StatusOK, id.UserID)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}
}
