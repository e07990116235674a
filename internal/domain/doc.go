// Package domain holds the entities of the generation pipeline: generation
// jobs and their status rules, question candidates and persisted questions,
// source summaries and the subject and exam catalog entries.
package domain
