package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("Content-Type = %q, want application/problem+json", ct)
	}
	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return raw
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name      string
		write     func(w http.ResponseWriter)
		wantCode  int
		wantType  string
		wantTitle string
	}{
		{
			name:      "not found",
			write:     func(w http.ResponseWriter) { NotFound(w, "printer hq-2 not found", "/api/v1/pulse/devices/hq-2") },
			wantCode:  http.StatusNotFound,
			wantType:  ProblemTypeNotFound,
			wantTitle: "Not Found",
		},
		{
			name:      "internal error",
			write:     func(w http.ResponseWriter) { InternalError(w, "spool directory unavailable", "/api/v1/spool/jobs") },
			wantCode:  http.StatusInternalServerError,
			wantType:  ProblemTypeInternal,
			wantTitle: "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			p := decodeProblem(t, w)
			if p["type"] != tt.wantType || p["title"] != tt.wantTitle {
				t.Errorf("problem = %v", p)
			}
			if p["status"] != float64(tt.wantCode) {
				t.Errorf("status field = %v, want %d", p["status"], tt.wantCode)
			}
			if p["detail"] == "" || p["instance"] == "" {
				t.Errorf("detail and instance must be set: %v", p)
			}
		})
	}
}

func TestWriteProblem_OmitsEmptyOptionalFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, Problem{Type: ProblemTypeInternal, Title: "Internal Server Error", Status: http.StatusInternalServerError})

	p := decodeProblem(t, w)
	for _, key := range []string{"detail", "instance"} {
		if _, ok := p[key]; ok {
			t.Errorf("%s present in %v", key, p)
		}
	}
}
