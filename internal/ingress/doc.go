// Package ingress captures the wire contract of the secure upload endpoint
// (/api/upload/secure) that the SPA talks to. It ships a conforming client,
// used by tooling and tests to submit a file plus metadata, and a stub
// backend that answers the same contract for local development without the
// real processing pipeline. Validation, scanning and storage of uploads live
// in the external backend and are not modelled here.
package ingress
