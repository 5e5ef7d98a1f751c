package gitnotes

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/empirica-ai/empirica/internal/model"
)

// Signer signs and verifies agent messages with Ed25519 JWTs. Signatures are
// stored as notes under signatures/<message_id>, so any node holding the
// public key can verify provenance offline.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner loads keys from PEM files. Either path may be empty: without a
// private key Sign fails, without a public key Verify fails.
func NewSigner(signingKeyPath, verifyKeyPath string) (*Signer, error) {
	s := &Signer{}
	if signingKeyPath != "" {
		b, err := os.ReadFile(signingKeyPath)
		if err != nil {
			return nil, fmt.Errorf("gitnotes: read signing key: %w", err)
		}
		block, _ := pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("gitnotes: signing key %s: not PEM", signingKeyPath)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("gitnotes: parse signing key: %w", err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("gitnotes: signing key %s: not Ed25519", signingKeyPath)
		}
		s.priv = priv
		s.pub = priv.Public().(ed25519.PublicKey)
	}
	if verifyKeyPath != "" {
		b, err := os.ReadFile(verifyKeyPath)
		if err != nil {
			return nil, fmt.Errorf("gitnotes: read verify key: %w", err)
		}
		block, _ := pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("gitnotes: verify key %s: not PEM", verifyKeyPath)
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("gitnotes: parse verify key: %w", err)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("gitnotes: verify key %s: not Ed25519", verifyKeyPath)
		}
		s.pub = pub
	}
	return s, nil
}

// messageClaims binds a signature to the content that matters: the id, the
// sender, and a digest of the body.
type messageClaims struct {
	Channel  string `json:"channel"`
	FromAIID string `json:"from_ai_id"`
	BodyHash string `json:"body_hash"`
	jwt.RegisteredClaims
}

// Sign produces a compact JWS for the message.
func (s *Signer) Sign(m model.AgentMessage) (string, error) {
	if s.priv == nil {
		return "", fmt.Errorf("gitnotes: no signing key configured: %w", model.ErrCapabilityUnavailable)
	}
	claims := messageClaims{
		Channel:  m.Channel,
		FromAIID: m.From.AIID,
		BodyHash: model.ContentHash(m.Subject + "\n" + m.Body),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  m.MessageID,
			IssuedAt: jwt.NewNumericDate(m.Timestamp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("gitnotes: sign message %s: %w", m.MessageID, err)
	}
	return signed, nil
}

// Verify checks a signature against the message content.
func (s *Signer) Verify(m model.AgentMessage, signature string) error {
	if s.pub == nil {
		return fmt.Errorf("gitnotes: no verify key configured: %w", model.ErrCapabilityUnavailable)
	}
	var claims messageClaims
	_, err := jwt.ParseWithClaims(signature, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.pub, nil
	})
	if err != nil {
		return fmt.Errorf("gitnotes: verify message %s: %w", m.MessageID, err)
	}
	if claims.Subject != m.MessageID {
		return fmt.Errorf("gitnotes: signature is for message %q, not %q", claims.Subject, m.MessageID)
	}
	if claims.BodyHash != model.ContentHash(m.Subject+"\n"+m.Body) {
		return fmt.Errorf("gitnotes: message %s body does not match signature", m.MessageID)
	}
	return nil
}

// SignAndStore signs the message and persists the signature note.
func (s *Store) SignAndStore(ctx context.Context, signer *Signer, m model.AgentMessage) error {
	sig, err := signer.Sign(m)
	if err != nil {
		return err
	}
	return s.Put(ctx, sig, NamespaceSignatures, m.MessageID)
}

// VerifyStored verifies a message against its persisted signature note.
func (s *Store) VerifyStored(ctx context.Context, signer *Signer, m model.AgentMessage) error {
	sig, err := s.Get(ctx, NamespaceSignatures, m.MessageID)
	if err != nil {
		return err
	}
	if sig == "" {
		return fmt.Errorf("gitnotes: no signature stored for message %s", m.MessageID)
	}
	return signer.Verify(m, sig)
}

// GenerateSigningKeys writes a fresh Ed25519 keypair as PEM files, for
// first-run provisioning.
func GenerateSigningKeys(privPath, pubPath string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("gitnotes: generate keys: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("gitnotes: encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("gitnotes: encode public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("gitnotes: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("gitnotes: write public key: %w", err)
	}
	return nil
}
