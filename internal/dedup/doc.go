// Package dedup drops generated questions that are near-duplicates of
// questions already stored for the same subject, or of each other.
package dedup
