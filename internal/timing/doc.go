// Package timing synthesizes per-word display timings for translated captions.
//
// Original-language word timestamps are turned into beats, the translated
// line is split into tokens, and tokens are spread over the beats by rank.
// The resulting token timings drive the active-word lookup and the bounded
// display window used while a line is on screen.
package timing
