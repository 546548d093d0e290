// Package httpapi serves an ingest.Service over HTTP with gin.
//
// Every response uses the envelope {success, data?, errors?}. Semantic
// rejections carry their code: OPEN_SESSION_EXISTS is 409,
// PERSON_NOT_FOUND is 404 and VALIDATION_ERROR is 400. An unregistered
// route is a plain 404 with no code, which clients read as a missing
// capability.
package httpapi
