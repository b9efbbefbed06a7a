// Package codec converts audio between its wire and in-memory forms:
// raw bytes to base64 text and back, and interleaved PCM16 to normalized
// float frames and back.
package codec
