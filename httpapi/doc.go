// Package httpapi exposes the engine over HTTP.
//
// Routes under /auth cover signup, login, logout and password flows.
// Routes under /admin run behind an enforcing interceptor with the user
// and admin guards, so handlers there always see an admin principal.
// Errors are written in the fixed {"error": "<code>"} form.
package httpapi
