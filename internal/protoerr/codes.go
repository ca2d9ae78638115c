// Package protoerr defines the machine-readable error codes surfaced by the
// binding protocol and the error type that carries them between layers.
package protoerr

import "net/http"

// Code is a machine-readable protocol error code. Its string value is what
// callers see in the "error" field of a response body.
type Code string

const (
	// Ceremony errors
	CodeUnknownSession         Code = "unknown_session"
	CodeSessionExpired         Code = "session_expired"
	CodeInvalidState           Code = "invalid_state"
	CodePreNegotiationRequired Code = "pre_negotiation_required"
	CodeInvalidStep            Code = "invalid_step"
	CodeAborted                Code = "aborted"

	// Handshake errors
	CodeAlgorithmRejected      Code = "algorithm_rejected"
	CodeOriginRejected         Code = "origin_rejected"
	CodeNoCompatibleAlgorithm  Code = "no_compatible_algorithm"
	CodeAlgorithmNotNegotiated Code = "algorithm_not_negotiated"
	CodeAlgorithmMismatch      Code = "algorithm_mismatch"

	// Authentication failures
	CodeInvalidCode        Code = "invalid_code"
	CodeInvalidSignature   Code = "invalid_signature"
	CodeInvalidUploadSec   Code = "invalid_upload_secret"
	CodeInvalidPublicKey   Code = "invalid_public_key"
	CodeVerificationFailed Code = "verification_failed"
	CodeUnknownUser        Code = "unknown_user"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInvalidTimestamp   Code = "invalid_timestamp"

	// Malformed input
	CodeSignatureError      Code = "signature_error"
	CodeMissingProof        Code = "missing_proof"
	CodeMissingFileMetadata Code = "missing_file_metadata"
	CodeInvalidRequest      Code = "invalid_request"
	CodeUserExists          Code = "user_exists"

	// Streaming errors
	CodeStreamNotFound             Code = "stream_not_found"
	CodeUploaderAlreadyConnected   Code = "uploader_already_connected"
	CodeDownloaderAlreadyConnected Code = "downloader_already_connected"

	// Boundary failures
	CodeNetworkError Code = "network_error"
	CodeInternal     Code = "internal_error"
)

// Class groups codes by how a caller is expected to recover.
type Class string

const (
	// ClassProtocol marks malformed or out-of-order requests.
	ClassProtocol Class = "protocol"
	// ClassAuthentication marks credential failures; a retry with corrected
	// input may succeed.
	ClassAuthentication Class = "authentication"
	// ClassTransport marks failures reaching an external collaborator.
	ClassTransport Class = "transport"
)

// Class reports the error taxonomy bucket of c.
func (c Code) Class() Class {
	switch c {
	case CodeInvalidCode,
		CodeInvalidSignature,
		CodeInvalidUploadSec,
		CodeInvalidPublicKey,
		CodeVerificationFailed,
		CodeUnknownUser,
		CodeUnauthorized,
		CodeForbidden,
		CodeInvalidTimestamp:
		return ClassAuthentication
	case CodeNetworkError:
		return ClassTransport
	default:
		return ClassProtocol
	}
}

// HTTPStatus maps c to the status code used on the wire.
func (c Code) HTTPStatus() int {
	switch c {
	// Not found
	case CodeUnknownSession, CodeStreamNotFound:
		return http.StatusNotFound

	// Gone
	case CodeSessionExpired, CodeAborted:
		return http.StatusGone

	// Authentication
	case CodeVerificationFailed, CodeUnknownUser, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidSignature, CodeInvalidUploadSec, CodeInvalidPublicKey, CodeInvalidTimestamp, CodeForbidden:
		return http.StatusForbidden

	// Conflicts with an attached leg
	case CodeUploaderAlreadyConnected, CodeDownloaderAlreadyConnected:
		return http.StatusConflict

	// invalid_code is a protocol outcome, reported in the body
	case CodeInvalidCode:
		return http.StatusOK

	case CodeNetworkError:
		return http.StatusBadGateway
	case CodeInternal:
		return http.StatusInternalServerError

	default:
		return http.StatusBadRequest
	}
}
