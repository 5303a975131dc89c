// Package httputil holds the JSON response helpers shared by every API
// handler: one envelope for errors, one place that sets Content-Type, and
// the 202 Accepted shape used when a job is enqueued rather than answered.
package httputil
