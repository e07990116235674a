// Package generation turns a content source into batches of exam question
// candidates using an external language model.
//
// The model is reached through the Provider interface, which concrete
// adapters in internal/platform implement. BatchGenerator runs one generation
// unit: it renders the prompt, bounds every call with a timeout, shrinks the
// batch when the model reports a capacity problem, backs off on transient
// failures and parses the raw response into validated candidates. A unit
// never fails; when its retry budget runs out it simply returns nothing.
package generation
