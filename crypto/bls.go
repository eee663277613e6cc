package crypto

import "errors"

// Errors returned by the BLS helpers.
var (
	ErrBLSUnavailable  = errors.New("bls: binary built without the blst tag")
	ErrBLSInvalidIKM   = errors.New("bls: IKM must be at least 32 bytes")
	ErrBLSKeyGenFailed = errors.New("bls: key generation failed")
	ErrBLSSignFailed   = errors.New("bls: signing failed")
)
