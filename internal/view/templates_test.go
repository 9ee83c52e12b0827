package view

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderStatusSetsHeaders(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.RenderStatus(rec, http.StatusBadRequest, "pages/login.html", TemplateData{Title: "Sign in", CSRFToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `name="csrf_token" value="tok"`)
}

func TestRenderUnknownTemplateWritesNothing(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.Render(rec, "pages/missing.html", TemplateData{})
	assert.Error(t, err)
	assert.Zero(t, rec.Body.Len())
}

func TestExecuteWritesToAnyWriter(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, engine.Execute(&buf, "pages/welcome.html", TemplateData{Title: "Vigil"}))
	assert.Contains(t, buf.String(), "Vigil")
}

func TestFuncs(t *testing.T) {
	assert.Equal(t, "In Progress", Label("IN_PROGRESS"))
	assert.Equal(t, "Critical", Label("CRITICAL"))
	assert.Equal(t, "-", Label(""))
	assert.Equal(t, "1,234,567", FormatNumber(1234567))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "-", formatDatePtr(nil))

	day := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-15", dateInput(&day))
	assert.Equal(t, "15 Mar 2024 09:30", formatDate(day))
}
