// Package logging sets up structured JSON logging for kbretrieve.
// Logs go to a size-rotated file under ~/.kbretrieve/logs/ and, when asked,
// to stderr as well.
package logging
