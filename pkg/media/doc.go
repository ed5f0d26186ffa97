// Package media stores images uploaded over the sync channel and returns
// URLs that displays can load.
//
// Uploads arrive as data URLs. DecodeDataURL extracts the bytes and picks
// an extension from the header (PNG unless it names JPEG, GIF or WebP).
// Objects are named by content hash, so uploading the same image twice
// yields the same URL.
//
// Two backends implement Store:
//
//   - DiskStore writes under a directory and serves it over HTTP
//   - S3Store writes to a bucket and returns a public or presigned URL
//
// Retention runs Store.Cleanup on a cron schedule.
package media
