package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"schoolbell/internal/auth"
	"schoolbell/internal/session"
	logx "schoolbell/pkg/logx"
)

// requestLog logs one line per request at debug, or warn for 5xx.
func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			}
			if status >= 500 {
				log.Warn("http request", fields...)
				return
			}
			log.Debug("http request", fields...)
		})
	}
}

// requireSession verifies the bearer token and attaches a request-scoped
// session naming the school and user. The session ends with the request.
func requireSession(verify *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verify.Verify(auth.TokenFromRequest(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token")
				return
			}
			sess := session.New(claims.SchoolID, claims.UserID)
			defer sess.End()
			ctx := auth.NewContext(session.NewContext(r.Context(), sess), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole admits tokens whose role claim is one of roles. It runs after
// requireSession.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.FromContext(r.Context())
			if !claims.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tenantOf(r *http.Request) string {
	if sess, ok := session.FromContext(r.Context()); ok {
		return sess.Tenant
	}
	return ""
}
