package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealityreport/trr-app-sub006/internal/runstore"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// Error codes carried in Response.Error. 0 means success.
const (
	CodeOK            = 0
	CodeInvalidParams = 1001
	CodeNotFound      = 1004
	CodeConflict      = 1009
	CodeUnavailable   = 1503
	CodeInternal      = 1500
)

// Response is the envelope of every JSON answer.
type Response struct {
	Error int    `json:"error"`
	Msg   string `json:"msg"`
	Data  any    `json:"data"`
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Error: CodeOK, Msg: "success", Data: data})
}

func failure(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, Response{Error: code, Msg: msg})
}

// fail maps a service or store error onto an HTTP status and code.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		failure(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrUnknownProfile), errors.Is(err, service.ErrEmptyTarget):
		failure(c, http.StatusBadRequest, CodeInvalidParams, err.Error())
	case errors.Is(err, service.ErrNotRunning):
		failure(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, service.ErrClosed):
		failure(c, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	default:
		failure(c, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
