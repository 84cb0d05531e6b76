package gonka

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/decred/dcrd/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Cosmos addresses are defined over RIPEMD-160.
)

const addressPrefix = "gonka"

// account is a parsed requester key and its bech32 address.
type account struct {
	key     *secp256k1.PrivateKey
	address string
}

// accounts caches parsed keys by their hex encoding. The router passes the
// same key on every call, so parsing and address derivation happen once.
type accounts struct {
	mu    sync.RWMutex
	byHex map[string]*account
}

func newAccounts() *accounts {
	return &accounts{byHex: make(map[string]*account)}
}

func (a *accounts) get(hexKey string) (*account, error) {
	a.mu.RLock()
	acc, ok := a.byHex[hexKey]
	a.mu.RUnlock()
	if ok {
		return acc, nil
	}

	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	addr, err := deriveAddress(key)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.byHex[hexKey]; ok {
		return acc, nil
	}
	acc = &account{key: key, address: addr}
	a.byHex[hexKey] = acc
	return acc, nil
}

// parsePrivateKey decodes a hex string, with or without 0x, into a secp256k1 key.
func parsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")

	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("gonka: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("gonka: private key must be 32 bytes, got %d", len(raw))
	}

	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("gonka: private key is zero")
	}
	return key, nil
}

// deriveAddress computes bech32("gonka", RIPEMD160(SHA256(compressed pubkey))).
func deriveAddress(key *secp256k1.PrivateKey) (string, error) {
	sha := sha256.Sum256(key.PubKey().SerializeCompressed())

	h := ripemd160.New()
	h.Write(sha[:])

	data, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("gonka: convert bits: %w", err)
	}
	return bech32.Encode(addressPrefix, data)
}

// signPayload signs hex(SHA256(body)) + timestamp + transfer address and
// returns the base64 r||s signature. dcrd signs with RFC6979 nonces and low-S.
func signPayload(key *secp256k1.PrivateKey, body []byte, tsNanos int64, transferAddr string) string {
	bodyHash := sha256.Sum256(body)
	message := hex.EncodeToString(bodyHash[:]) + strconv.FormatInt(tsNanos, 10) + transferAddr
	digest := sha256.Sum256([]byte(message))

	// [recovery flag, r(32), s(32)]
	compact := ecdsa.SignCompact(key, digest[:], false)
	return base64.StdEncoding.EncodeToString(compact[1:65])
}
