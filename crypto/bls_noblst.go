//go:build !blst

package crypto

// BLSAvailable reports whether the binary was built with BLS support.
const BLSAvailable = false

// BLSSigner is unavailable without the blst build tag.
type BLSSigner struct{}

// NewBLSSigner always fails without the blst build tag.
func NewBLSSigner(ikm []byte) (*BLSSigner, error) { return nil, ErrBLSUnavailable }

// PublicKey returns nil.
func (s *BLSSigner) PublicKey() []byte { return nil }

// Sign always fails without the blst build tag.
func (s *BLSSigner) Sign(msg []byte) ([]byte, error) { return nil, ErrBLSUnavailable }

// BLSVerify rejects every signature without the blst build tag.
func BLSVerify(pubkey, msg, sig []byte) bool { return false }
