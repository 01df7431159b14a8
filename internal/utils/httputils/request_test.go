package httputils

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wgomg/pulsegen/internal/utils"
)

type samplePayload struct {
	AppName string   `json:"app_name" validate:"required"`
	Dates   []string `json:"dates" validate:"required,min=1"`
}

func newJSONRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	return r
}

func TestDecodeJSONValid(t *testing.T) {
	var p samplePayload
	if err := DecodeJSON(newJSONRequest(`{"app_name":"x","dates":["2025-01-01"]}`), &p); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if p.AppName != "x" || len(p.Dates) != 1 {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		code        int
		contains    string
	}{
		{"wrong content type", "text/plain", `{}`, http.StatusUnsupportedMediaType, "Content-Type"},
		{"empty body", "application/json", ``, http.StatusBadRequest, "Empty"},
		{"malformed", "application/json", `{"app_name":`, http.StatusBadRequest, "Invalid JSON"},
		{"trailing data", "application/json", `{"app_name":"x","dates":["d"]} {}`, http.StatusBadRequest, "trailing"},
		{"missing app", "application/json", `{"dates":["d"]}`, http.StatusUnprocessableEntity, "app_name"},
		{"empty dates", "application/json", `{"app_name":"x","dates":[]}`, http.StatusUnprocessableEntity, "dates"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			r.Header.Set("Content-Type", tc.contentType)

			var p samplePayload
			err := DecodeJSON(r, &p)

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected *HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != tc.code {
				t.Fatalf("code = %d, want %d", httpErr.Code, tc.code)
			}
			if !strings.Contains(httpErr.Message, tc.contains) {
				t.Fatalf("message %q does not contain %q", httpErr.Message, tc.contains)
			}
		})
	}
}

func TestHandleError(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, NewHTTPError(http.StatusTeapot, "short and stout"))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "short and stout" {
		t.Fatalf("error = %q", body["error"])
	}

	rec = httptest.NewRecorder()
	HandleError(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestLogRequestBodyRestoresBody(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "debug", true)

	r := newJSONRequest(`{"app_name":"x","dates":["d"]}`)
	if _, err := LogRequestBody(r, logger, "req-1"); err != nil {
		t.Fatalf("LogRequestBody: %v", err)
	}
	var p samplePayload
	if err := DecodeJSON(r, &p); err != nil {
		t.Fatalf("body not restored: %v", err)
	}
	if !strings.Contains(buf.String(), "Raw request body") {
		t.Fatalf("expected raw body log, got %q", buf.String())
	}
}
