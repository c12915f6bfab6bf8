package api

import (
	"context"
	"net/http"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/session"
)

const sessionCookie = "correo_sid"

type sessionKey struct{}

// withSession makes sure every request carries a session id, issuing a new
// cookie when the browser has none or an invalid one.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var sid string
		if c, err := r.Cookie(sessionCookie); err == nil && session.ValidID(c.Value) {
			sid = c.Value
		} else {
			sid = session.NewID()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   h.SecureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sid)))
	})
}

func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(sessionKey{}).(string)
	return sid
}
