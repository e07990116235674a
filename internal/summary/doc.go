// Package summary maintains reusable digests of source documents.
//
// A document is summarised once per (subject, exam). When a new document's
// topics overlap an existing summary closely enough the summary is reused
// and the document is recorded as one of its sources, so later jobs on
// similar material skip the extraction call entirely.
package summary
