package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestJSON_GetDecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"value":42}`)
	}))
	defer srv.Close()

	c := NewJSON(srv.Client(), "test", time.Second)
	var out struct {
		Value int `json:"value"`
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	if err := c.Get(context.Background(), srv.URL, h, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("value=%d", out.Value)
	}
}

func TestJSON_PostEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || !strings.Contains(string(b), `"username":"u"`) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		_, _ = io.WriteString(w, `{"token":"t"}`)
	}))
	defer srv.Close()

	c := NewJSON(srv.Client(), "test", time.Second)
	var out struct {
		Token string `json:"token"`
	}
	if err := c.Post(context.Background(), srv.URL, map[string]string{"username": "u"}, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if out.Token != "t" {
		t.Fatalf("token=%q", out.Token)
	}
}

func TestJSON_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewJSON(srv.Client(), "test", time.Second).Get(context.Background(), srv.URL, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Body != "nope" {
		t.Fatalf("err=%v want StatusError 404", err)
	}
}

func TestJSON_TimeoutPerCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	err := NewJSON(srv.Client(), "test", 50*time.Millisecond).Get(context.Background(), srv.URL, nil, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied, took %v", time.Since(start))
	}
}

func TestJSON_ZeroTimeoutLeavesClientDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, `{"value":1}`)
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	if err := NewJSON(srv.Client(), "test", 0).Get(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != 1 {
		t.Fatalf("value=%d want 1", out.Value)
	}

	short := *srv.Client()
	short.Timeout = 20 * time.Millisecond
	if err := NewJSON(&short, "test", 0).Get(context.Background(), srv.URL, nil, nil); err == nil {
		t.Fatalf("expected client timeout error")
	}
}
