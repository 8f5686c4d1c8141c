// Package prompts holds the instructions replywriter sends to Gemini.
//
// Prompt text is Go code rather than configuration because it is program
// logic: the wording is fixed, interpolation is deterministic, and tests
// pin the exact shape. Each prompt gets an exported function that takes
// the dynamic parts and returns the fully assembled string.
package prompts
