// Package parser turns raw generative service output into typed values.
//
// Model output is often almost-JSON: wrapped in code fences or prose, with
// LaTeX backslashes that are not valid string escapes, or with trailing
// commas. Decode extracts the bracketed value and retries the parse through
// an ordered, cumulative repair pipeline (Repairs). When every stage fails it
// returns a *ParseError with the stage and byte offset; callers treat that as
// zero results, never as a fatal error.
package parser
