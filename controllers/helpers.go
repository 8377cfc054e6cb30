package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

// respondError maps service errors onto the response envelope.
func respondError(ctx *gin.Context, err error, code int, msg string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.Error(ctx, http.StatusBadRequest, 40001, verr.Error())
	case errors.Is(err, services.ErrPoolNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "pool not found")
	case errors.Is(err, services.ErrPoolNameTaken):
		utils.Error(ctx, http.StatusConflict, 40901, "pool with this name already exists")
	default:
		utils.Sugar.Errorf("%s: %v", msg, err)
		utils.Error(ctx, http.StatusInternalServerError, code, msg)
	}
}

func parseIDParam(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// requiredPoolID reads the pool_id query parameter.
func requiredPoolID(ctx *gin.Context) (uint, bool) {
	raw := strings.TrimSpace(ctx.Query("pool_id"))
	if raw == "" {
		utils.Error(ctx, http.StatusBadRequest, 40003, "pool_id is required")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid pool_id")
		return 0, false
	}
	return uint(id), true
}

// optionalPoolID returns nil when pool_id is absent.
func optionalPoolID(ctx *gin.Context) (*uint, bool) {
	raw := strings.TrimSpace(ctx.Query("pool_id"))
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid pool_id")
		return nil, false
	}
	v := uint(id)
	return &v, true
}

// intQuery parses an integer query parameter bounded to [min, max], using def when absent.
func intQuery(ctx *gin.Context, name string, def, min, max int) (int, bool) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		utils.Error(ctx, http.StatusBadRequest, 40004, name+" must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
		return 0, false
	}
	return n, true
}
