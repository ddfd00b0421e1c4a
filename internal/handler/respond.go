package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/model"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch model.Kind(err) {
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindState:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
