package ens

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/net/idna"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/types"
)

var profile = idna.New(idna.MapForLookup(), idna.Transitional(false), idna.StrictDomainName(false))

// Normalize lowercases and maps name for hashing.
func Normalize(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return "", nil
	}
	out, err := profile.ToUnicode(name)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", name, err)
	}
	for _, label := range strings.Split(out, ".") {
		if label == "" {
			return "", fmt.Errorf("normalize %q: empty label", name)
		}
	}
	return out, nil
}

// Namehash computes the recursive node hash of name.
func Namehash(name string) (common.Hash, error) {
	norm, err := Normalize(name)
	if err != nil {
		return common.Hash{}, err
	}
	var node common.Hash
	if norm == "" {
		return node, nil
	}
	labels := strings.Split(norm, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), label)
	}
	return node, nil
}

// ipfsNamespace is the EIP-1577 ipfs-ns codec as an unsigned varint.
var ipfsNamespace = []byte{0xe3, 0x01}

// EncodeContentHash encodes an identifier as an EIP-1577 contenthash.
func EncodeContentHash(id types.ContentIdentifier) ([]byte, error) {
	v1, err := cas.ToV1(id)
	if err != nil {
		return nil, fmt.Errorf("encode contenthash: %w", err)
	}
	return append(append([]byte(nil), ipfsNamespace...), v1.Bytes()...), nil
}

// ErrUnsupportedContentHash is returned for non-ipfs contenthash records.
var ErrUnsupportedContentHash = errors.New("unsupported contenthash namespace")

// DecodeContentHash decodes an EIP-1577 ipfs contenthash. dag-pb sha2-256
// identifiers come back in CIDv0 form.
func DecodeContentHash(b []byte) (types.ContentIdentifier, error) {
	if len(b) == 0 {
		return "", nil
	}
	if !bytes.HasPrefix(b, ipfsNamespace) {
		return "", ErrUnsupportedContentHash
	}
	c, err := cid.Cast(b[len(ipfsNamespace):])
	if err != nil {
		return "", fmt.Errorf("decode contenthash: %w", err)
	}
	if c.Type() == cid.DagProtobuf && c.Prefix().MhType == multihash.SHA2_256 {
		c = cid.NewCidV0(c.Hash())
	}
	return types.ContentIdentifier(c.String()), nil
}
