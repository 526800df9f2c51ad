// Package static serves files from a document root through an ordered
// pipeline of stages that compute HTTP caching semantics: content type,
// Cache-Control, Last-Modified, ETag, conditional 304 answers and on-the-fly
// gzip/deflate.
//
// Each request gets a fresh Queue built from the handler's stage list. The
// front stage runs with the rest of the queue as next; a stage that does not
// invoke next short-circuits the pipeline. A Response marked as a failure
// means "not a static resource" and the caller is expected to hand the
// request to the application instead.
//
// Stages and the StatCache are safe for concurrent use.
package static
