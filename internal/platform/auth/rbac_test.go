package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(c echo.Context, roles ...string) {
	ctx := context.WithValue(c.Request().Context(), UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		roles    []string
		wantPass bool
	}{
		{"exact match", []string{RoleOralSurgeon}, []string{RoleOralSurgeon}, true},
		{"admin always passes", []string{RoleOralSurgeon}, []string{RoleAdmin}, true},
		{"wrong role", []string{RoleOralSurgeon}, []string{RoleProsthodontist}, false},
		{"no roles", []string{RoleOralSurgeon}, nil, false},
		{"one of several", []string{RoleOralSurgeon, RoleProsthodontist}, []string{RoleProsthodontist}, true},
		// literal strings as the external verifier mints them, accents included
		{"verifier surgeon string", []string{RoleOralSurgeon}, []string{"sebészorvos"}, true},
		{"verifier prosthodontist string", []string{RoleProsthodontist}, []string{"fogpótlástanász"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			contextWithRoles(c, tt.roles...)

			called := false
			handler := RequireRole(tt.allowed...)(func(c echo.Context) error {
				called = true
				return nil
			})
			err := handler(c)

			if tt.wantPass {
				if err != nil || !called {
					t.Errorf("expected pass, got err=%v called=%v", err, called)
				}
			} else {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != http.StatusForbidden {
					t.Errorf("expected 403, got %v", err)
				}
			}
		})
	}
}
