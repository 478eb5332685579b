package security

import "net/http"

// GetCookie returns the named cookie's value, or "" when absent. This
// service only reads tokens; issuing and clearing cookies belongs to the
// auth service that mints them.
func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
