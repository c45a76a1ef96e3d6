// Package matrixbridge implements the Matrix transport provider.
//
// It is resume-only: sessions are provisioned with a homeserver access
// token persisted in the slot's session blob, so interactive pairing is
// reported as unsupported and the supervisor falls through to the next
// provider. Inbound messages arrive through the sync loop; bridge puppet
// senders have their phone number extracted from the user id localpart.
package matrixbridge
