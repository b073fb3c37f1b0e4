package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/stateerr"
	"vinzhub-gamestate/pkg/apierror"
	"vinzhub-gamestate/pkg/response"
)

// toAPIError maps state-layer and store errors to HTTP errors.
func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	kind := stateerr.KindOf(err)
	switch kind {
	case stateerr.KindValidation:
		return apierror.New(http.StatusBadRequest, string(kind), err.Error())
	case stateerr.KindReconciliation:
		return apierror.New(http.StatusConflict, string(kind), err.Error())
	case stateerr.KindStoreUnavailable:
		return apierror.New(http.StatusServiceUnavailable, string(kind), err.Error())
	case stateerr.KindCorruption:
		return apierror.New(http.StatusInternalServerError, string(kind), err.Error())
	}

	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return apierror.NotFound("user not found").WithCode("USER_NOT_FOUND")
	case errors.Is(err, stateerr.ErrNotResident):
		return apierror.NotFound("user is not resident").WithCode("NOT_RESIDENT")
	case errors.Is(err, stateerr.ErrDirty):
		return apierror.Conflict("user has unflushed mutations").WithCode("DIRTY")
	case errors.Is(err, context.DeadlineExceeded):
		return apierror.ServiceUnavailable("request timed out")
	}
	return apierror.InternalError("")
}

func writeError(w http.ResponseWriter, err error) {
	response.Error(w, toAPIError(err))
}

// userIDParam parses the {user_id} route parameter.
func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "user_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("user_id must be a positive integer").WithDetail("user_id", raw)
	}
	return id, nil
}
