package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"procurehub/internal/oracle"
	"procurehub/internal/service"
)

func TestRespondServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: bad input", service.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: request x", service.ErrNotFound), http.StatusNotFound},
		{"duplicate", fmt.Errorf("%w: proposal y", service.ErrDuplicate), http.StatusConflict},
		{"oracle upstream", &oracle.UpstreamError{Category: oracle.CategoryRateLimited, Attempts: 4}, http.StatusBadGateway},
		{"oracle malformed", &oracle.MalformedOutputError{Reason: "not json"}, http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondServiceError(c, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
