// Package mediapool downloads the images of admitted records in the
// background with a fixed pool of workers.
package mediapool
