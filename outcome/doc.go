// Package outcome maps a subject's terminal decision to the persisted status,
// the outcome note and the message read back to the subject.
//
// New outcome categories are added as table entries; the dispatcher only
// looks resolutions up.
package outcome
