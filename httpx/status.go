package httpx

import "net/http"

// Status codes returned by the connection-auth endpoints.
const (
	StatusOK                 = http.StatusOK
	StatusCreated            = http.StatusCreated   // ticket issued
	StatusNoContent          = http.StatusNoContent // ticket revoked
	StatusBadRequest         = http.StatusBadRequest
	StatusUnauthorized       = http.StatusUnauthorized // every authentication failure, whatever the method
	StatusForbidden          = http.StatusForbidden    // authenticated but not the ticket owner
	StatusNotFound           = http.StatusNotFound     // unknown and expired tickets alike
	StatusConflict           = http.StatusConflict
	StatusInternalError      = http.StatusInternalServerError
	StatusServiceUnavailable = http.StatusServiceUnavailable // ticket store unreachable
	StatusGatewayTimeout     = http.StatusGatewayTimeout     // request context ended during authentication
)
