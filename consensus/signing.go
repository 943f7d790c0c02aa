package consensus

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
)

// ScorePayload is the signed score submission exchanged between validators
// during the consensus-scoring phase. Cycle is the slot the scores belong to.
type ScorePayload struct {
	SubmitterID  string                    `json:"submitterId"`
	Cycle        uint64                    `json:"cycle"`
	Scores       []entities.ValidatorScore `json:"scores"`
	SignatureHex string                    `json:"signatureHex"`
	PublicKeyHex string                    `json:"publicKeyHex"`
}

// Identity is the validator's ed25519 keypair and derived on-chain address.
type Identity struct {
	UID        string
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

func NewIdentity(uid string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "generating keypair")
	}
	return &Identity{UID: uid, PublicKey: pub, privateKey: priv}, nil
}

// IdentityFromSeed restores a deterministic identity from a hex-encoded
// 32-byte seed, as loaded from configuration.
func IdentityFromSeed(uid, seedHex string) (*Identity, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, errors.Wrap(err, "decoding seed")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		UID:        uid,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		privateKey: priv,
	}, nil
}

func (i *Identity) Address() string {
	return DeriveAddress(i.PublicKey)
}

// DeriveAddress maps a public key to its registry address: the hex encoding
// of the first 20 bytes of the key's sha256 digest.
func DeriveAddress(pub ed25519.PublicKey) string {
	digest := sha256.Sum256(pub)
	return hex.EncodeToString(digest[:20])
}

// CanonicalScoreBytes serializes the signed portion of a payload with sorted
// keys so signer and verifier always hash identical bytes.
func CanonicalScoreBytes(submitterID string, cycle uint64, scores []entities.ValidatorScore) ([]byte, error) {
	canonical := map[string]any{
		"cycle":       cycle,
		"scores":      scores,
		"submitterId": submitterID,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling canonical payload")
	}
	return data, nil
}

// Sign produces a broadcast-ready payload carrying the scores for one slot.
func (i *Identity) Sign(cycle uint64, scores []entities.ValidatorScore) (ScorePayload, error) {
	message, err := CanonicalScoreBytes(i.UID, cycle, scores)
	if err != nil {
		return ScorePayload{}, err
	}
	signature := ed25519.Sign(i.privateKey, message)
	return ScorePayload{
		SubmitterID:  i.UID,
		Cycle:        cycle,
		Scores:       scores,
		SignatureHex: hex.EncodeToString(signature),
		PublicKeyHex: hex.EncodeToString(i.PublicKey),
	}, nil
}

// VerifyPayload checks the payload signature against its embedded public key.
// Sender identity checks against the registry are the aggregator's job.
func VerifyPayload(payload ScorePayload) error {
	pubBytes, err := hex.DecodeString(payload.PublicKeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return errors.Wrap(entities.ErrSignatureVerification, "malformed public key")
	}
	signature, err := hex.DecodeString(payload.SignatureHex)
	if err != nil {
		return errors.Wrap(entities.ErrSignatureVerification, "malformed signature")
	}
	message, err := CanonicalScoreBytes(payload.SubmitterID, payload.Cycle, payload.Scores)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pubBytes, message, signature) {
		return entities.ErrSignatureVerification
	}
	return nil
}
