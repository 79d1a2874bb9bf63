// Package limits provides centralized size constants and validation functions
// shared by the command server, the push driver and the reconciliation engine.
//
// # Size Hierarchy
//
//   - DefaultChunkSize (1024 bytes): the length of every pooled transfer buffer
//     unless configured otherwise. This matches the chunk size used by the
//     device-side scripts, so hashes and upload acknowledgements line up with
//     what host tooling expects.
//
//   - MaxChunkSize (64 KiB): the largest buffer a pool may be configured with.
//
//   - MaxCommandLine (1024 bytes): the longest control or push line accepted,
//     including the line terminator.
//
//   - LineBufferSize (4 KiB): the read buffer behind a control connection. A
//     line that fits the buffer but exceeds MaxCommandLine is rejected by
//     ValidateCommandLine; a longer one is drained first.
//
// # Validation Functions
//
//	if err := limits.ValidateLine(line, limits.MaxCommandLine); err != nil {
//	    // ErrLineEmpty or ErrLineTooLong
//	}
//
//	if err := limits.ValidateChunkSize(size); err != nil {
//	    // ErrChunkSize
//	}
package limits
