package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logx "opsdispatch/pkg/logx"
)

func TestUploadReturnsFetchableAsset(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/objects/") || !strings.HasSuffix(r.URL.Path, "/flyer.jpg") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth = %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.org/abc/flyer.jpg"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, logx.Nop())
	a, err := c.Upload(context.Background(), "flyer.jpg", "image/jpeg", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if a.URL != "https://cdn.example.org/abc/flyer.jpg" {
		t.Fatalf("URL = %q", a.URL)
	}
	if a.Ref == "" || !strings.HasSuffix(a.Ref, "/flyer.jpg") {
		t.Fatalf("Ref = %q", a.Ref)
	}
}

func TestUploadFailureIsAnError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	if _, err := c.Upload(context.Background(), "flyer.jpg", "", strings.NewReader("data")); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestDeleteTreatsMissingAsGone(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	if err := c.Delete(context.Background(), "abc/flyer.jpg"); err != nil {
		t.Fatalf("Delete of missing object: %v", err)
	}
}

func TestScheduleDeleteFires(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	deleted := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			mu.Lock()
			select {
			case deleted <- r.URL.Path:
			default:
			}
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	c.ScheduleDelete("abc/flyer.jpg", 10*time.Millisecond)

	select {
	case path := <-deleted:
		if path != "/objects/abc/flyer.jpg" {
			t.Fatalf("deleted path = %q", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled deletion never fired")
	}
}
