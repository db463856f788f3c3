package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func adminProtected(tm *TokenManager) (http.Handler, *bool) {
	reached := false
	handler := AdminMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if claims := GetAdminFromContext(r); claims == nil {
			http.Error(w, "no claims in context", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &reached
}

func TestAdminMiddleware_AllowsValidToken(t *testing.T) {
	tm := NewTokenManager("test-secret-long-enough-for-hmac", time.Hour)
	handler, reached := adminProtected(tm)

	token, err := tm.GenerateAdminToken("admin-1")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/admin/security/incidents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if !*reached {
		t.Error("handler was not reached")
	}
}

func TestAdminMiddleware_RejectsMissingHeader(t *testing.T) {
	tm := NewTokenManager("test-secret-long-enough-for-hmac", time.Hour)
	handler, reached := adminProtected(tm)

	req := httptest.NewRequest("GET", "/admin/security/incidents", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if *reached {
		t.Error("handler should not have been reached")
	}
}

func TestAdminMiddleware_RejectsMalformedHeader(t *testing.T) {
	tm := NewTokenManager("test-secret-long-enough-for-hmac", time.Hour)
	handler, _ := adminProtected(tm)

	req := httptest.NewRequest("GET", "/admin/security/incidents", nil)
	req.Header.Set("Authorization", "Token abc123")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAdminMiddleware_RejectsTamperedToken(t *testing.T) {
	tm := NewTokenManager("test-secret-long-enough-for-hmac", time.Hour)
	handler, _ := adminProtected(tm)

	token, err := tm.GenerateAdminToken("admin-1")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/admin/security/incidents", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
