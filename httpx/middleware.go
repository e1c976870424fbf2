package httpx

import "net/http"

// WrapMiddleware bridges a net/http middleware into the echo chain. The
// request the wrapped middleware hands downstream, including its context,
// replaces the one seen by later handlers.
func WrapMiddleware(mw func(http.Handler) http.Handler) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(StatusInternalError, "middleware missing")
			}
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			var err error
			downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				err = next(c)
			})
			mw(downstream).ServeHTTP(c.Response(), c.Request())
			return err
		}
	}
}
