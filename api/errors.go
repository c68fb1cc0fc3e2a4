package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/recycle-points/points"
)

// statusFor maps a domain error to its HTTP status. This is the only place
// error kinds become status codes.
func statusFor(err error) int {
	e := points.AsError(err)
	switch e.Kind {
	case points.KindValidation, points.KindConflict:
		return http.StatusBadRequest
	case points.KindNotFound:
		switch e.Code {
		case points.CodeRewardNotFound, points.CodeUserNotFound:
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case points.KindUnauthorized:
		if e.Code == points.CodeForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError renders err as {error, message}. Internal errors are logged
// with their detail and returned with the generic message only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := points.AsError(err)
	status := statusFor(err)

	entry := h.Log.WithFields(logrus.Fields{
		"code":       e.Code,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status >= 500 {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Debug(err.Error())
	}

	writeJSON(w, status, ErrorResponse{Error: string(e.Code), Message: e.Message})
}
