//nolint:lll
package types

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the caller's fault. The 400xx
// block is malformed input, 404xx not found, 409xx conflicts and 422xx
// rejected proofs. Codes 50001-59999 are transient server side failures.
//
// NEVER change any of the current error codes, only append new errors after
// the current last one of each block.
var (
	ErrMalformedHex       = Error{Code: 40001, Kind: ErrMalformedInput, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed hex value")}
	ErrNonCanonicalField  = Error{Code: 40002, Kind: ErrMalformedInput, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("value is not a canonical field element")}
	ErrInvalidTreeParams  = Error{Code: 40003, Kind: ErrMalformedInput, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid tree parameters")}
	ErrInvalidMerklePath  = Error{Code: 40004, Kind: ErrMalformedInput, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid merkle path")}
	ErrInvalidLeaf        = Error{Code: 40005, Kind: ErrMalformedInput, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid leaf value")}
	ErrTreeNotFound       = Error{Code: 40401, Kind: ErrNotFound, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("tree not found")}
	ErrLeafNotFound       = Error{Code: 40402, Kind: ErrNotFound, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("leaf not found")}
	ErrCommitmentNotFound = Error{Code: 40403, Kind: ErrNotFound, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("commitment not found")}
	ErrInvitationNotFound = Error{Code: 40404, Kind: ErrNotFound, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("invitation not found")}
	ErrNullifierNotFound  = Error{Code: 40405, Kind: ErrNotFound, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("nullifier not found")}
	ErrTreeExists         = Error{Code: 40901, Kind: ErrConflict, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("tree already exists")}
	ErrTreeFull           = Error{Code: 40902, Kind: ErrConflict, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("tree is full")}
	ErrCommitmentInvalid  = Error{Code: 40903, Kind: ErrConflict, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("commitment does not match")}
	ErrNullifierUsed      = Error{Code: 40904, Kind: ErrConflict, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already used")}
	ErrInvitationExists   = Error{Code: 40905, Kind: ErrConflict, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("invitation already exists")}
	ErrVerification       = Error{Code: 42201, Kind: ErrVerificationFailed, HTTPstatus: http.StatusUnprocessableEntity, Err: fmt.Errorf("proof verification failed")}
	ErrTreeStale          = Error{Code: 50301, Kind: ErrStaleTree, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("tree changed concurrently")}
)
