package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// amountDecimals is the fixed-point scale used when hashing amounts.
const amountDecimals = 6

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	tradeLegTypeHash = ethcrypto.Keccak256(
		[]byte("TradeLeg(string opportunityId,uint8 leg,string venue,string instrument,uint8 side,uint256 inputAmount,uint256 minOutputAmount,uint256 limitPrice,uint256 attempt)"),
	)
)

// Wallet holds the trading key and signs leg requests as EIP-712 typed
// data.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewWallet creates a Wallet from a hex-encoded secp256k1 private key.
func NewWallet(privateKeyHex string, chainID int64) (*Wallet, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: invalid private key: %w", err)
	}
	w := &Wallet{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	w.domainSep = domainSeparator("venuearb", "1", chainID)
	return w, nil
}

// GenerateWallet creates a Wallet with a fresh random key. Paper trading
// uses it when no key is configured.
func GenerateWallet(chainID int64) (*Wallet, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: generate key: %w", err)
	}
	return NewWallet(hex.EncodeToString(ethcrypto.FromECDSA(pk)), chainID)
}

// Address returns the checksummed address of the wallet.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// SignLegRequest signs req and returns the 65-byte hex signature.
func (w *Wallet) SignLegRequest(req domain.TradeLegRequest) (string, error) {
	sig, err := ethcrypto.Sign(w.legDigest(req), w.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/wallet: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced sig over req.
func (w *Wallet) RecoverSigner(req domain.TradeLegRequest, sig string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return "", errors.New("crypto/wallet: malformed signature")
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(w.legDigest(req), raw)
	if err != nil {
		return "", fmt.Errorf("crypto/wallet: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

func (w *Wallet) legDigest(req domain.TradeLegRequest) []byte {
	side := int64(0)
	if req.Side == domain.SideSell {
		side = 1
	}
	structHash := ethcrypto.Keccak256(
		concatBytes(
			tradeLegTypeHash,
			ethcrypto.Keccak256([]byte(req.OpportunityID)),
			bigIntTo32Bytes(big.NewInt(int64(req.Leg))),
			ethcrypto.Keccak256([]byte(req.Venue)),
			ethcrypto.Keccak256([]byte(req.Instrument)),
			bigIntTo32Bytes(big.NewInt(side)),
			bigIntTo32Bytes(fixedPoint(req.InputAmount)),
			bigIntTo32Bytes(fixedPoint(req.MinOutputAmount)),
			bigIntTo32Bytes(fixedPoint(req.LimitPrice)),
			bigIntTo32Bytes(big.NewInt(int64(req.Attempt))),
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, w.domainSep, structHash))
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// fixedPoint scales a non-negative amount to an integer with amountDecimals
// places. Negative values hash as zero.
func fixedPoint(v float64) *big.Int {
	d := decimal.NewFromFloat(v).Shift(amountDecimals).Truncate(0)
	if d.IsNegative() {
		return big.NewInt(0)
	}
	return d.BigInt()
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
