// Package gemini implements generation.Provider on Google's Gemini API.
//
// The adapter sends one system instruction and one user prompt per call and
// returns the concatenated text of the first candidate. API failures and
// unusable responses are translated into the generation package's sentinel
// errors so the batch generator can decide between retrying, shrinking the
// batch and giving up:
//
//   - 429 and 5xx responses, timeouts and network errors: ErrTransientFailure
//   - token limit errors and MAX_TOKENS truncation: ErrCapacityExceeded
//   - safety blocks on the prompt or the candidate: ErrContentBlocked
//   - authentication and unknown model errors: ErrInvalidConfig
//   - empty or missing candidates: ErrInvalidResponse
package gemini
