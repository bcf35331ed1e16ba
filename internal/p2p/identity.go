package p2p

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity key types.
const (
	KeyTypeEd25519   = "ed25519"
	KeyTypeSecp256k1 = "secp256k1"
)

// Identity is the node's key pair and derived peer ID. It is generated once
// per process and never written to disk, so every run is a new peer.
type Identity struct {
	Key     libp2pcrypto.PrivKey
	ID      peer.ID
	KeyType string
}

// GenerateIdentity creates a fresh identity of the given key type.
// An empty keyType selects ed25519.
func GenerateIdentity(keyType string) (*Identity, error) {
	var (
		priv libp2pcrypto.PrivKey
		err  error
	)
	switch keyType {
	case "", KeyTypeEd25519:
		keyType = KeyTypeEd25519
		priv, _, err = libp2pcrypto.GenerateEd25519Key(rand.Reader)
	case KeyTypeSecp256k1:
		priv, err = generateSecp256k1()
	default:
		return nil, fmt.Errorf("unsupported identity key type %q", keyType)
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", keyType, err)
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	return &Identity{Key: priv, ID: id, KeyType: keyType}, nil
}

func generateSecp256k1() (libp2pcrypto.PrivKey, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	defer sk.Zero()
	return libp2pcrypto.UnmarshalSecp256k1PrivateKey(sk.Serialize())
}
