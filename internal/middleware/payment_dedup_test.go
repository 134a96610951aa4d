package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestMemoryDeduperSeen(t *testing.T) {
	d := newMemoryConfirmationDeduper(time.Minute)
	ctx := context.Background()

	dup, err := d.Seen(ctx, "ref-1")
	if err != nil || dup {
		t.Fatalf("first Seen = %v, %v; want false, nil", dup, err)
	}
	dup, err = d.Seen(ctx, "ref-1")
	if err != nil || !dup {
		t.Fatalf("second Seen = %v, %v; want true, nil", dup, err)
	}
	if dup, _ := d.Seen(ctx, "ref-2"); dup {
		t.Fatal("different reference reported as duplicate")
	}
}

func TestMemoryDeduperExpiry(t *testing.T) {
	d := newMemoryConfirmationDeduper(10 * time.Millisecond)
	ctx := context.Background()

	d.Seen(ctx, "ref-1")
	time.Sleep(20 * time.Millisecond)
	if dup, _ := d.Seen(ctx, "ref-1"); dup {
		t.Fatal("expired entry still reported as duplicate")
	}
}

func TestNewConfirmationDeduperFallsBack(t *testing.T) {
	// Empty addr means no Redis configured: memory-only, no error.
	d, err := NewConfirmationDeduper("", "", 0, time.Minute)
	if err != nil {
		t.Fatalf("memory deduper: %v", err)
	}
	if _, ok := d.(*memoryConfirmationDeduper); !ok {
		t.Fatalf("deduper type = %T, want memory", d)
	}
}

func TestAPIAuth(t *testing.T) {
	e := echo.New()
	handler := APIAuth("secret-key", "")(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{"valid token", "secret-key", http.StatusOK},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts/1", nil)
			if tt.token != "" {
				req.Header.Set("Token", tt.token)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := handler(c); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
