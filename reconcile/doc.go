// Package reconcile compares the device file set against a host manifest by
// size and content hash, so the host only transfers files that changed.
//
// # Result
//
// A run reports the manifest paths whose local copy already matches, without
// their leading separator, joined by "&". When nothing matches the result is
// "NO MATCHES", and an unexpected failure yields "ERROR: <message>".
//
// # Synchronization
//
// With Synchronize set the engine first inventories every file and directory
// outside the excluded prefixes. Files referenced by the manifest are removed
// from the inventory whether or not their hash matches. Whatever remains is
// deleted afterwards, and directories are removed deepest first with failures
// ignored, so only directories left empty disappear.
//
// # Scan
//
// Scan emits one "path&type&size&hash" record per entry for hosts that want
// the whole inventory instead of a verdict.
package reconcile
