// Package conversation runs the question-answering turns over one document.
//
// A turn is two stages over an owned State: Retrieve rewrites the latest question
// into search keywords and appends the best matching chunks as a tool message,
// then Generate answers from those chunks and the visible history. Ask composes
// the stages and commits the result as a checkpoint, so the transcript only ever
// grows by whole turns.
package conversation
