// Package extraction holds the evidence model and the two pure halves
// of the extraction pipeline: building prompts from a category schema
// and enumerated sentences, and mapping raw model output back into
// typed, confidence-carrying Evidence records.
//
// Parsing is tolerant by design. Model output is frequently malformed
// in one category while fine in the others, so each category is parsed
// in isolation and failures degrade to an empty evidence list instead
// of failing the row.
package extraction
