// Package notification defines the notification record and the pure helpers
// around it: parsing an inbound push payload, normalizing it with defaults,
// and resolving the deep link a click should navigate to.
//
// Inbound payloads are untyped and every field is optional. ParsePayload turns
// raw bytes into a Payload without ever failing the caller's flow, and
// Normalize turns a Payload into Fields. Nothing downstream sees raw JSON.
package notification
