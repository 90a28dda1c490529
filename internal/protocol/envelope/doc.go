// Package envelope owns the setup channel wire contract.
//
// Ownership boundary:
// - request and response envelope shapes
// - base64(JSON) payload codec
// - validation at the codec boundary
//
// A channel payload is one base64 blob of a UTF-8 JSON object. Responses are
// never chunked; binary content such as an instruction hero image travels as a
// base64 string nested inside the already-encoded envelope.
package envelope
