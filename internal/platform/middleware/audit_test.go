package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/auth"
)

func auditContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(auth.WithIdentity(context.Background(), "dr-smith", []string{"physician"}, nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(requestIDKey, "req-42")
	return c, rec
}

func auditLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("failed to parse audit line %q: %v", buf.String(), err)
	}
	return line
}

func TestAudit_LogsAccess(t *testing.T) {
	c, _ := auditContext(http.MethodGet, "/api/v1/patients/3f1e/cds")
	c.SetPath("/api/v1/patients/:id/cds")
	c.SetParamNames("id")
	c.SetParamValues("3f1e")

	var buf bytes.Buffer
	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	if err := Audit(zerolog.New(&buf))(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line := auditLine(t, &buf)
	if line["type"] != "phi_access" {
		t.Errorf("expected phi_access type, got %v", line["type"])
	}
	if line["user_id"] != "dr-smith" || line["patient_id"] != "3f1e" {
		t.Errorf("unexpected identity: %v", line)
	}
	if line["route"] != "/api/v1/patients/:id/cds" || line["method"] != http.MethodGet {
		t.Errorf("unexpected route: %v", line)
	}
	if line["status"] != float64(http.StatusOK) || line["request_id"] != "req-42" {
		t.Errorf("unexpected status or request id: %v", line)
	}
	roles, _ := line["user_roles"].([]interface{})
	if len(roles) != 1 || roles[0] != "physician" {
		t.Errorf("expected physician role, got %v", line["user_roles"])
	}
}

func TestAudit_NoPatientParam(t *testing.T) {
	c, _ := auditContext(http.MethodPost, "/api/v1/cds/evaluate")
	c.SetPath("/api/v1/cds/evaluate")

	var buf bytes.Buffer
	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	if err := Audit(zerolog.New(&buf))(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := auditLine(t, &buf)["patient_id"]; got != "" {
		t.Errorf("expected no patient id, got %v", got)
	}
}

func TestAudit_UsesHTTPErrorStatus(t *testing.T) {
	c, _ := auditContext(http.MethodGet, "/api/v1/patients/missing/cds")

	var buf bytes.Buffer
	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}

	err := Audit(zerolog.New(&buf))(handler)(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
	if got := auditLine(t, &buf)["status"]; got != float64(http.StatusNotFound) {
		t.Errorf("expected status 404, got %v", got)
	}
}
