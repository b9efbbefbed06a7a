// Package live speaks the Gemini Live bidirectional streaming protocol over
// a websocket: it sends the session setup and microphone audio, and decodes
// transcriptions, response audio and turn signals.
package live
