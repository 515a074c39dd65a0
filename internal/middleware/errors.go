package middleware

import (
	"net/http"

	"github.com/go-chi/render"

	apierrors "licensed/internal/errors"
)

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	problem := apierrors.NewProblemDetails(status, problemType, title, detail, r.URL.Path).
		WithExtension("success", false).
		WithExtension("trace_id", GetReqID(r.Context()))
	render.Render(w, r, problem)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusTooManyRequests, apierrors.TypeRateLimit, "Too Many Requests", detail)
}
