// Package httpapi wires the framework-agnostic lifecycle.Service onto a
// Gin router: routing, authentication middleware, and the wire envelopes
// of §6.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fabric-testbed/credential-broker/internal/apierr"
)

// dataEnvelope is the success response shape of §6:
// `{ data: [...], size, status, type }`.
type dataEnvelope struct {
	Data   any    `json:"data"`
	Size   int    `json:"size"`
	Status int    `json:"status"`
	Type   string `json:"type"`
}

// errorEnvelope is the failure response shape of §6: `{status, message, details}`.
type errorEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respondList writes a 200 envelope wrapping a slice of items.
func respondList(c *gin.Context, typeName string, items []any) {
	c.JSON(http.StatusOK, dataEnvelope{Data: items, Size: len(items), Status: http.StatusOK, Type: typeName})
}

// respondOne writes a 200 envelope wrapping a single item as a one-element data array.
func respondOne(c *gin.Context, typeName string, item any) {
	c.JSON(http.StatusOK, dataEnvelope{Data: []any{item}, Size: 1, Status: http.StatusOK, Type: typeName})
}

// respondOK writes a bare 200 envelope with no payload, for operations
// whose contract is "200 ok" (§4.G).
func respondOK(c *gin.Context) {
	c.JSON(http.StatusOK, dataEnvelope{Data: []any{}, Size: 0, Status: http.StatusOK, Type: "status"})
}

// respondError maps err onto the §7 error envelope. apierr.Error carries
// its own Kind/Status/Details; anything else is a ServerError.
func respondError(c *gin.Context, err error) {
	ae, ok := err.(*apierr.Error)
	if !ok {
		ae = apierr.New(apierr.ServerError, "%v", err)
	}
	c.AbortWithStatusJSON(ae.Kind.Status(), errorEnvelope{
		Status:  ae.Kind.Status(),
		Message: ae.Message,
		Details: ae.Details,
	})
}
