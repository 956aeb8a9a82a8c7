package httpapi

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/assetcorp/sirannon/internal/transport/reqhook"
)

// httpLogger logs each request at Info level once it completes, grounded on
// the teacher's apimiddleware.HTTPLogger: method, path, status, duration and
// the chi request id.
func httpLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

const maxBodyBytes = 1 << 20 // 1 MiB — spec §6.

// OnRequestHook is the HTTP-transport alias of reqhook.Hook — spec §6.
type OnRequestHook = reqhook.Hook

// RequestDenial is the HTTP-transport alias of reqhook.Denial — spec §6.
type RequestDenial = reqhook.Denial

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func onRequestMiddleware(hook OnRequestHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			denial, err := reqhook.Call(hook, r)
			if err != nil {
				writeErrorCode(w, http.StatusInternalServerError, sirannonerr.CodeHookError, err.Error())
				return
			}
			if denial != nil {
				status := denial.Status
				if status == 0 {
					status = http.StatusForbidden
				}
				writeErrorCode(w, status, sirannonerr.Code(denial.Code), denial.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
