package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	midsec "PPHub/middleware/security"
	"PPHub/tools/security"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerStopsOnAbort(t *testing.T) {
	var ran []string
	m := NewManager(
		func(c *gin.Context) { ran = append(ran, "a") },
		func(c *gin.Context) { ran = append(ran, "b"); c.AbortWithStatus(http.StatusTeapot) },
	)
	m.Add(func(c *gin.Context) { ran = append(ran, "c") })
	if m.Len() != 3 {
		t.Fatalf("len = %d", m.Len())
	}

	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) { ran = append(ran, "h") })
	w := do(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTeapot || len(ran) != 2 {
		t.Fatalf("code=%d ran=%v", w.Code, ran)
	}

	m.Clear()
	ran = nil
	do(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(ran) != 1 || ran[0] != "h" {
		t.Fatalf("after Clear ran=%v", ran)
	}
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "http://evil", true},
		{[]string{"http://app.local"}, "", true},
		{[]string{"http://app.local/"}, "http://APP.local", true},
		{[]string{"http://app.local"}, "http://evil", false},
		{[]string{"*"}, "http://evil", true},
	}
	for _, c := range cases {
		if got := OriginAllowed(c.allowed, c.origin); got != c.want {
			t.Errorf("OriginAllowed(%v, %q) = %v", c.allowed, c.origin, got)
		}
	}

	r := gin.New()
	r.Use(NewManager(Origin([]string{"http://app.local"})).Use())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil")
	if w := do(r, req); w.Code != http.StatusForbidden {
		t.Fatalf("evil origin = %d", w.Code)
	}
	req.Header.Set("Origin", "http://app.local")
	w := do(r, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://app.local" {
		t.Fatalf("good origin = %d %v", w.Code, w.Header())
	}
}

func TestRecoveryAndLogger(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(), Logger(nil))
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	if w := do(r, httptest.NewRequest(http.MethodGet, "/panic", nil)); w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestRouteAuth(t *testing.T) {
	jwt := security.Options{Secret: []byte("k"), Alg: "HS256", TTL: time.Minute}
	opt := RouteOpt{IsAuth: true, Auth: midsec.DefaultOptions(jwt)}

	r := gin.New()
	GET(r, "/me", func(c *gin.Context) {
		id, ok := midsec.IdentityOf(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.UserID)
	}, opt)
	POST(r, "/open", func(c *gin.Context) { c.Status(http.StatusNoContent) }, RouteOpt{})

	if w := do(r, httptest.NewRequest(http.MethodGet, "/me", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	if w := do(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}

	tok, _, err := security.Generate(jwt, "alice", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	if w := do(r, req); w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("good token = %d %q", w.Code, w.Body.String())
	}
	req = httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil)
	if w := do(r, req); w.Code != http.StatusOK {
		t.Fatalf("query token = %d", w.Code)
	}

	if w := do(r, httptest.NewRequest(http.MethodPost, "/open", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("open route = %d", w.Code)
	}
}
