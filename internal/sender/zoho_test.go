package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newZohoServer(t *testing.T, handler http.HandlerFunc) (*ZohoSender, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	z := NewZoho(ZohoConfig{
		Endpoint:   srv.URL,
		TemplateID: "tpl-1",
		Headers:    map[string]string{"X-Requested-With": "XMLHttpRequest"},
		Cookies:    map[string]string{"sid": "abc"},
		Timeout:    2 * time.Second,
	})
	return z, srv
}

func TestZohoSendSuccess(t *testing.T) {
	var gotScript string
	z, _ := newZohoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "abc" {
			t.Errorf("missing session cookie")
		}
		var payload struct {
			Functions []struct {
				Script string `json:"script"`
			} `json:"functions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.Functions) == 1 {
			gotScript = payload.Functions[0].Script
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "success"})
	})

	res, err := z.Send(context.Background(), Message{
		Recipient: "user@example.com",
		Subject:   "hello",
		From:      Identity{Name: "Ops"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	for _, want := range []string{"user@example.com", "hello", "tpl-1"} {
		if !strings.Contains(gotScript, want) {
			t.Fatalf("script missing %q:\n%s", want, gotScript)
		}
	}
}

func TestZohoSendAuthFailure(t *testing.T) {
	z, _ := newZohoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "AUTHENTICATION_FAILURE", "message": "invalid oauth"})
	})

	_, err := z.Send(context.Background(), Message{Recipient: "user@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuth(err) {
		t.Fatalf("expected auth-class error, got %v", err)
	}
}

func TestZohoSendThrottled(t *testing.T) {
	z, _ := newZohoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := z.Send(context.Background(), Message{Recipient: "user@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	var ra RetryAfterError
	if !errors.As(err, &ra) {
		t.Fatalf("expected retry-after error, got %v", err)
	}
	if ra.RetryAfter() != 7*time.Second {
		t.Fatalf("retry-after = %v, want 7s", ra.RetryAfter())
	}
}

func TestZohoSendAPIErrorCode(t *testing.T) {
	z, _ := newZohoServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "LIMIT_EXCEEDED", "message": "daily cap"})
	})

	_, err := z.Send(context.Background(), Message{Recipient: "user@example.com"})
	if err == nil {
		t.Fatal("expected error for non-success code")
	}
	if IsAuth(err) {
		t.Fatalf("LIMIT_EXCEEDED must not be auth-class: %v", err)
	}
}

func TestAuthWrapping(t *testing.T) {
	if Auth(nil) != nil {
		t.Fatal("Auth(nil) should be nil")
	}
	base := errors.New("boom")
	err := Auth(base)
	if !IsAuth(err) {
		t.Fatal("IsAuth should see the wrapper")
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to base")
	}
	if IsAuth(base) {
		t.Fatal("plain errors are not auth-class")
	}
}
