// Package observance defines the shared record types and collaborator
// interfaces of the special-day engine: recurring DD/MM dates, the closed
// category set, the Observance record itself, and the fetcher/clock/source
// contracts every other package depends on.
package observance
