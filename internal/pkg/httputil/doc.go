// Package httputil holds the shared response and request-decoding helpers
// for the API handlers. Handlers go through these instead of raw
// http.ResponseWriter calls so the JSON envelope stays uniform.
package httputil
