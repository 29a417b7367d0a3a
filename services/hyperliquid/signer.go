package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// L1 actions are signed as an EIP-712 "Agent" message whose connectionId is
// the hash of the msgpack encoded action.
const (
	domainName    = "Exchange"
	domainVersion = "1"
	domainChainID = 1337

	sourceMainnet = "a"
	sourceTestnet = "b"
)

var (
	domainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	agentTypeHash  = crypto.Keccak256([]byte("Agent(string source,bytes32 connectionId)"))
	domainSep      = domainSeparator()
)

func domainSeparator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(domainName)),
		crypto.Keccak256([]byte(domainVersion)),
		common.LeftPadBytes(big.NewInt(domainChainID).Bytes(), 32),
		common.LeftPadBytes(common.Address{}.Bytes(), 32),
	)
}

// Signer signs L1 actions with an API wallet key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool

	mu        sync.Mutex
	lastNonce int64
}

// NewSigner parses a hex private key, with or without the 0x prefix.
func NewSigner(privateKey string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
	}, nil
}

// Address is the signing wallet's address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Nonce returns the current time in milliseconds, strictly increasing per signer.
func (s *Signer) Nonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// Sign wraps action in a signed exchange request.
func (s *Signer) Sign(action any, nonce int64) (*ExchangeRequest, error) {
	hash, err := actionHash(action, nonce)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(s.digest(hash), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return &ExchangeRequest{
		Action: action,
		Nonce:  nonce,
		Signature: Signature{
			R: hexutil.Encode(sig[:32]),
			S: hexutil.Encode(sig[32:64]),
			V: int(sig[64]) + 27,
		},
	}, nil
}

// digest is the EIP-712 hash of the phantom agent for connectionID.
func (s *Signer) digest(connectionID []byte) []byte {
	source := sourceTestnet
	if s.mainnet {
		source = sourceMainnet
	}
	structHash := crypto.Keccak256(agentTypeHash, crypto.Keccak256([]byte(source)), connectionID)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// actionHash is keccak256(msgpack(action) ‖ nonce ‖ 0x00). The trailing zero
// byte marks the absence of a vault address.
func actionHash(action any, nonce int64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("failed to encode action: %w", err)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	buf.Write(n[:])
	buf.WriteByte(0)
	return crypto.Keccak256(buf.Bytes()), nil
}
