package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMatchScope(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"Patient.read", "Patient.read", true},
		{"Patient.write", "Patient.read", false},
		{"user/*.*", "Patient.read", true},
		{"user/*.*", "Encounter.write", true},
		{"patient/*.read", "Patient.read", true},
		{"patient/Patient.read", "Patient.read", true},
		{"patient/*.read", "Patient.write", false},
		{"Patient.read", "Encounter.read", false},
		{"", "Patient.read", false},
		{"Patient.read", "", false},
		{"invalid", "Patient.read", false},
	}

	for _, tt := range tests {
		if got := matchScope(tt.granted, tt.required); got != tt.want {
			t.Errorf("matchScope(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func withIdentity(roles, scopes []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u1", roles, scopes))
	return e.NewContext(req, httptest.NewRecorder())
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		allow bool
	}{
		{"matching role", []string{"physician"}, true},
		{"second listed role", []string{"nurse"}, true},
		{"admin satisfies any", []string{"admin"}, true},
		{"other role", []string{"billing"}, false},
		{"no roles", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole("physician", "nurse")(ok)(withIdentity(tt.roles, nil))
			if tt.allow && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if !tt.allow {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	if err := RequireScope("Patient", "read")(ok)(withIdentity(nil, []string{"user/*.*"})); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	err := RequireScope("Patient", "read")(ok)(withIdentity(nil, []string{"patient/Observation.read"}))
	expectStatus(t, err, http.StatusForbidden)
}
