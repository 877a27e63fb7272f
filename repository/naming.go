package repository

import "strings"

// Address and role names derived from a repository name. External tooling
// relies on these exact forms.

// WriteAddress returns the ingest address, e.g. repository.sandbox.write
func WriteAddress(name string) string {
	return "repository." + name + ".write"
}

// ReadAddress returns the subscription address
func ReadAddress(name string) string {
	return "repository." + name + ".read"
}

// DeadLetterAddress returns the address unparsable entries are forwarded to
func DeadLetterAddress(name string) string {
	return "repository." + name + ".dead_letters"
}

// WriterRole returns the role allowed to publish to the repository
func WriterRole(name string) string {
	return "repository." + name + ".writer"
}

// ReaderRole returns the role allowed to subscribe to the repository
func ReaderRole(name string) string {
	return "repository." + name + ".reader"
}

// AdministratorRole returns the repository administrator role
func AdministratorRole(name string) string {
	return "repository." + name + ".administrator"
}

// WorkbenchRole returns the role used by the browser workbench for the repository
func WorkbenchRole(name string) string {
	return "repository." + name + ".workbench"
}

// StreamName converts an address into a JetStream stream name.
// Stream names may not contain dots.
func StreamName(address string) string {
	return strings.ReplaceAll(address, ".", "_")
}

// ConsumerName returns the durable consumer shared by a repository's storage workers
func ConsumerName(name string) string {
	return "repository_" + name + "_storage"
}

// EntriesBucket returns the store bucket or table name for a repository's entries
func EntriesBucket(name string) string {
	return "repository_" + strings.ReplaceAll(name, "-", "_") + "_entries"
}
