package passport

import (
	"net/http"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// SessionPolicy lets through requests whose session is flagged
// authenticated. Other requests get {"logout": redirect} with 401 when they
// want JSON, or a redirect to logoutRedirect.
func SessionPolicy(store SessionStore, logoutRedirect string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if sess, err := store.Load(c); err == nil && sess.Authenticated {
				return c.Next()
			}

			if WantsJSON(c) {
				return c.JSON(router.StatusUnauthorized, map[string]any{"logout": logoutRedirect})
			}
			return c.Redirect(logoutRedirect, http.StatusFound)
		}
	}
}

// SessionUser loads the user referenced by the session into locals. It never
// rejects a request.
func SessionUser(store SessionStore, loader UserLoader, logger Logger) router.MiddlewareFunc {
	if logger == nil {
		logger = defLogger{}
	}
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if CurrentUser(c) != nil {
				return c.Next()
			}

			sess, err := store.Load(c)
			if err != nil {
				logger.Debug("session discarded", "error", err)
				return c.Next()
			}
			if sess.UserID == "" {
				return c.Next()
			}

			id, err := uuid.Parse(sess.UserID)
			if err != nil {
				return c.Next()
			}

			user, err := loader.UserByID(c.Context(), id)
			if err != nil {
				logger.Error("failed to load session user", "user_id", sess.UserID, "error", err)
				return c.Next()
			}
			if user != nil {
				SetCurrentUser(c, user)
			}
			return c.Next()
		}
	}
}
