package spool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/config"
	"github.com/HerbHall/printfleet/internal/testutil"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// newTestModule returns a module serving from the harness pipeline with
// uploads spooled to their own directory.
func newTestModule(t *testing.T, h *pipelineHarness) (*Module, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SpoolDir = t.TempDir()
	return &Module{
		logger:   zap.NewNop(),
		cfg:      cfg,
		pipeline: h.pipeline,
		lookPath: func(string) (string, error) { return "/usr/bin/soffice", nil },
	}, cfg.SpoolDir
}

// multipartJob builds a POST /jobs request. An empty filename omits the file part.
func multipartJob(t *testing.T, deviceID, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if deviceID != "" {
		if err := mw.WriteField("device_id", deviceID); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			hdr.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(m *Module, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandleSubmitJob_DeliversPDF(t *testing.T) {
	h := newPipelineHarness(t)
	h.addPrinter("hq", models.StateConnected)
	m, spoolDir := newTestModule(t, h)

	w := serve(m, multipartJob(t, "hq", "report.pdf", "application/pdf", buildPDF(2, 612, 792)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp jobResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StageDelivered || resp.Pages != 2 || resp.JobID == "" {
		t.Errorf("response = %+v", resp)
	}
	got := h.printer.received(t, 1)[0]
	if resp.Bytes != int64(len(got)) {
		t.Errorf("Bytes = %d, printer received %d", resp.Bytes, len(got))
	}
	assertEmptyDir(t, spoolDir)
}

func TestHandleSubmitJob_MediaTypeFromExtension(t *testing.T) {
	h := newPipelineHarness(t)
	h.addPrinter("hq", models.StateConnected)
	m, _ := newTestModule(t, h)

	w := serve(m, multipartJob(t, "hq", "memo.docx", "application/octet-stream", []byte("PK")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if h.converter.count() != 1 {
		t.Errorf("converter calls = %d, want 1", h.converter.count())
	}
}

func TestHandleSubmitJob_Failures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *pipelineHarness)
		deviceID   string
		filename   string
		wantStatus int
		wantReason string
	}{
		{
			name:       "missing device id",
			filename:   "a.pdf",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_request",
		},
		{
			name:       "missing file",
			deviceID:   "hq",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_request",
		},
		{
			name:       "unknown device",
			deviceID:   "nope",
			filename:   "a.txt",
			wantStatus: http.StatusNotFound,
			wantReason: "device_not_found",
		},
		{
			name:       "disconnected device",
			setup:      func(h *pipelineHarness) { h.addPrinter("down", models.StateDisconnected) },
			deviceID:   "down",
			filename:   "a.docx",
			wantStatus: http.StatusConflict,
			wantReason: "device_disconnected",
		},
		{
			name:       "conversion failure",
			setup:      func(h *pipelineHarness) { h.converter.err = errors.New("boom") },
			deviceID:   "hq",
			filename:   "a.rtf",
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "conversion_failed",
		},
		{
			name: "transport failure",
			setup: func(h *pipelineHarness) {
				_ = h.printer.ln.Close()
			},
			deviceID:   "hq",
			filename:   "a.txt",
			wantStatus: http.StatusBadGateway,
			wantReason: "transport_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPipelineHarness(t)
			h.addPrinter("hq", models.StateConnected)
			if tt.setup != nil {
				tt.setup(h)
			}
			m, spoolDir := newTestModule(t, h)

			w := serve(m, multipartJob(t, tt.deviceID, tt.filename, "", []byte("data")))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var problem map[string]any
			if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if problem["reason"] != tt.wantReason {
				t.Errorf("reason = %v, want %s", problem["reason"], tt.wantReason)
			}
			assertEmptyDir(t, spoolDir)
		})
	}
}

func TestHandleSubmitJob_TooLarge(t *testing.T) {
	h := newPipelineHarness(t)
	h.addPrinter("hq", models.StateConnected)
	m, _ := newTestModule(t, h)
	m.cfg.MaxUploadBytes = 1024

	w := serve(m, multipartJob(t, "hq", "big.prn", "", bytes.Repeat([]byte("x"), 4096)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if h.printer.count() != 0 {
		t.Error("oversized upload reached the printer")
	}
}

func TestModule_Lifecycle(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("plugins.spool.spool_dir", t.TempDir())

	m := New()
	m.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	err := m.Init(context.Background(), plugin.Dependencies{
		Config: config.New(v).Sub("plugins.spool"),
		Logger: zap.NewNop(),
		Store:  testutil.NewStore(t),
		Bus:    testutil.NewMockBus(),
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.ValidateConfig(); err != nil {
		t.Errorf("ValidateConfig: %v", err)
	}
	if m.cfg.Port != RawPort {
		t.Errorf("Port = %d, want %d", m.cfg.Port, RawPort)
	}
	if got := m.Health(context.Background()).Status; got != "degraded" {
		t.Errorf("Health = %q, want degraded without a converter", got)
	}
	m.lookPath = func(string) (string, error) { return "/usr/bin/soffice", nil }
	if got := m.Health(context.Background()).Status; got != "healthy" {
		t.Errorf("Health = %q, want healthy", got)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Errorf("Start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestModule_ValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Module{cfg: DefaultConfig()}
			tt.mutate(&m.cfg)
			if err := m.ValidateConfig(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestModule_InfoAndUninitializedHealth(t *testing.T) {
	m := New()
	if m.Info().Name != "spool" {
		t.Errorf("Name = %q", m.Info().Name)
	}
	if got := m.Health(context.Background()).Status; got != "unhealthy" {
		t.Errorf("Health = %q, want unhealthy", got)
	}
}
