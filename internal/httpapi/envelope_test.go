package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func TestRespondListWrapsItemsWithSize(t *testing.T) {
	c, rec := newTestContext()
	respondList(c, "token", []any{"a", "b", "c"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var body dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "token", body.Type)
	assert.Equal(t, 3, body.Size)
}

func TestRespondOneWrapsSingleItem(t *testing.T) {
	c, rec := newTestContext()
	respondOne(c, "jwks", map[string]string{"kid": "credmgr-1"})

	var body dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "jwks", body.Type)
	assert.Equal(t, 1, body.Size)
}

func TestRespondOKIsEmptyStatusEnvelope(t *testing.T) {
	c, rec := newTestContext()
	respondOK(c)

	var body dataEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "status", body.Type)
	assert.Equal(t, 0, body.Size)
}

func TestRespondErrorMapsApierrKindToStatus(t *testing.T) {
	c, rec := newTestContext()
	respondError(c, apierr.New(apierr.NotFound, "token %s not found", "abc123"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Contains(t, body.Message, "abc123")
}

func TestRespondErrorWrapsPlainErrorsAsServerError(t *testing.T) {
	c, rec := newTestContext()
	respondError(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
