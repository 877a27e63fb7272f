// Package errors classifies failures so callers can pick a recovery strategy
// without matching on error strings.
//
// Three classes are used across the server:
//
//   - Transient: the store or broker is temporarily unreachable. The storage
//     worker rolls the message back so the broker redelivers it.
//   - Invalid: bad repository configuration, an unknown parser type, a record
//     that cannot be parsed, or rejected credentials. Never retried.
//   - Fatal: the process or component is going away.
//
// Wrap third-party errors with component context:
//
//	if err := store.Insert(ctx, repo, e); err != nil {
//	    return errors.WrapTransient(err, "KVStore", "Insert", "put entry")
//	}
//
// Check the class when deciding what to do next:
//
//	if errors.IsTransient(err) {
//	    _ = delivery.Nak(delay)
//	}
//
// The package shadows the standard library name; import the standard package
// as stderrors where both are needed.
package errors
