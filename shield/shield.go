// Package shield holds the HTTP middleware applied in front of the
// datatrack API.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(1 << 20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// APIStack returns the middleware for a JSON API, outermost first:
// HeadToGet, SecurityHeaders(APIHeaders()), MaxJSONBody(maxBody).
func APIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxJSONBody(maxBody),
	}
}
