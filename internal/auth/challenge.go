package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mhutchens/stepauth/internal/models"
)

// ChallengeSigner verifies hardware token responses. Tokens are enrolled with
// a base64-encoded Ed25519 public key; a response is the signed challenge in
// the form "<challenge-b64>.<signature-b64>".
type ChallengeSigner struct{}

// NewChallengeSigner creates a ChallengeSigner
func NewChallengeSigner() *ChallengeSigner {
	return &ChallengeSigner{}
}

// VerifySignature checks that signedResponse carries a valid signature over
// its challenge under the method's enrolled public key. A malformed response
// is a failed verification, not a fault.
func (s *ChallengeSigner) VerifySignature(ctx context.Context, userID, publicKey, signedResponse string) (bool, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: method has an invalid hardware token key", models.ErrValidation)
	}

	challengeB64, signatureB64, found := strings.Cut(signedResponse, ".")
	if !found {
		return false, nil
	}
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return false, nil
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, nil
	}

	return ed25519.Verify(ed25519.PublicKey(keyBytes), challenge, signature), nil
}
