package wire

import "errors"

// Error kinds surfaced by the codec. Callers match with errors.Is; the
// wrapped message names the field that failed and the byte that was seen.
var (
	// ErrProtocol covers wire bytes that violate the protocol: unknown
	// versions, malformed varints, length overruns. Fatal for the connection.
	ErrProtocol = errors.New("protocol violation")

	// ErrAuthentication is returned when the AEAD open fails. The packet is
	// dropped; the caller may count it and carry on.
	ErrAuthentication = errors.New("packet authentication failed")

	// ErrNotYetImplemented marks a recognized but unsupported codepoint.
	ErrNotYetImplemented = errors.New("not yet implemented")

	// ErrConfiguration marks build inputs that violate preconditions, such
	// as a connection ID length outside [3, 18].
	ErrConfiguration = errors.New("invalid configuration")

	// ErrPacketSize is returned when the payload no longer fits the MTU
	// after header, padding and AEAD overhead.
	ErrPacketSize = errors.New("packet exceeds maximum datagram size")
)
