// Package docstore fetches source documents by reference and extracts their
// plain text. References are either s3://bucket/key objects, served by any
// S3 compatible store through minio-go, or http(s) URLs.
package docstore
