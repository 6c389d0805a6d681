package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureBrowserID(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = BrowserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestBrowserID_IssuesCookie(t *testing.T) {
	var got string
	handler := BrowserIDMiddleware(true)(captureBrowserID(&got))

	req := httptest.NewRequest("POST", "/api/sessions", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != BrowserCookie {
		t.Fatalf("cookies = %+v", cookies)
	}
	if got == "" || cookies[0].Value != got {
		t.Errorf("context id %q, cookie %q", got, cookies[0].Value)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Errorf("cookie flags: %+v", cookies[0])
	}
}

func TestBrowserID_ReusesCookie(t *testing.T) {
	const id = "6f1c1c8e-3c1b-4b8a-9d2e-2f5b0c7d9e10"
	var got string
	handler := BrowserIDMiddleware(false)(captureBrowserID(&got))

	req := httptest.NewRequest("POST", "/api/sessions", http.NoBody)
	req.AddCookie(&http.Cookie{Name: BrowserCookie, Value: id})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got != id {
		t.Errorf("browser id = %q, want %q", got, id)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Error("cookie reissued")
	}
}

func TestBrowserID_InvalidCookieReplaced(t *testing.T) {
	var got string
	handler := BrowserIDMiddleware(false)(captureBrowserID(&got))

	req := httptest.NewRequest("POST", "/api/sessions", http.NoBody)
	req.AddCookie(&http.Cookie{Name: BrowserCookie, Value: "../../etc"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got == "../../etc" || got == "" {
		t.Errorf("browser id = %q", got)
	}
}

func TestBrowserID_ExemptPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		var got string
		handler := BrowserIDMiddleware(false)(captureBrowserID(&got))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", path, http.NoBody))

		if got != "" || len(rr.Result().Cookies()) != 0 {
			t.Errorf("%s: browser id %q issued", path, got)
		}
	}
}
