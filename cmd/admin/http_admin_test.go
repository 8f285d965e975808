package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestCallAdmin(t *testing.T) {
	var gotQuery url.Values
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.Query()
		switch r.URL.Path {
		case "/admin/v1/runs":
			_, _ = w.Write([]byte(`{"runs":[]}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	q := url.Values{"platform": {"P1"}, "limit": {"5"}}
	if code := callAdmin(http.MethodGet, srv.URL+"/", "/admin/v1/runs", q, time.Second); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if gotMethod != http.MethodGet || gotQuery.Get("platform") != "P1" || gotQuery.Get("limit") != "5" {
		t.Fatalf("method=%s query=%v", gotMethod, gotQuery)
	}
	if code := callAdmin(http.MethodPost, srv.URL, "/admin/v1/missing", nil, time.Second); code != 1 {
		t.Fatalf("exit code %d for 404", code)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method=%s", gotMethod)
	}
}
