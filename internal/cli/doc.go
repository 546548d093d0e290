// Package cli implements the vermillion command line.
//
// Device commands (enqueue, person, queue, photo, sync, watch) open the
// local store under data_dir. serve runs the reference ingestion server.
// Every command honors --format json, writing one CLIResponse per result
// to stdout and logs to stderr.
package cli
