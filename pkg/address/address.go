// Package address parses and formats actor addresses.
//
// The textual form is <network><protocol><payload>, where network is "f"
// (mainnet) or "t" (testnet) and protocol is a single digit. ID addresses
// carry a decimal actor ID; every other protocol carries a lowercase base32
// encoding of payload||checksum, the checksum being a 4-byte blake2b digest
// of protocol||payload.
package address

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/multiformats/go-base32"
	"github.com/multiformats/go-varint"
	"golang.org/x/crypto/blake2b"
)

// Protocol identifies the address kind.
type Protocol byte

const (
	// ID addresses name an actor by its numeric ID.
	ID Protocol = iota
	// SECP256K1 addresses are the blake2b-160 hash of a secp256k1 public key.
	SECP256K1
	// Actor addresses are the blake2b-160 hash of actor creation data.
	Actor
	// BLS addresses carry a BLS public key.
	BLS
)

// Network selects the textual prefix.
type Network byte

const (
	Mainnet Network = iota
	Testnet
)

const (
	mainnetPrefix = "f"
	testnetPrefix = "t"

	// PayloadHashLength is the payload size of SECP256K1 and Actor addresses.
	PayloadHashLength = 20
	// BlsPublicKeyBytes is the payload size of BLS addresses.
	BlsPublicKeyBytes = 48
	// ChecksumHashLength is the size of the trailing checksum.
	ChecksumHashLength = 4

	maxAddressStringLength = 2 + 84
)

var (
	// ErrUnknownNetwork is returned when the network prefix is not recognized.
	ErrUnknownNetwork = errors.New("unknown address network")
	// ErrUnknownProtocol is returned when the protocol digit is not recognized.
	ErrUnknownProtocol = errors.New("unknown address protocol")
	// ErrInvalidPayload is returned when the payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid address payload")
	// ErrInvalidLength is returned when the address or payload has the wrong size.
	ErrInvalidLength = errors.New("invalid address length")
	// ErrInvalidChecksum is returned when the checksum does not match.
	ErrInvalidChecksum = errors.New("invalid address checksum")
)

// encoding is the lowercase base32 alphabet without padding.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Error is an address parsing failure.
type Error struct {
	// Input is the text or bytes that failed to parse.
	Input string

	// Err is one of the Err* sentinels.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("address %q: %v", e.Input, e.Err)
}

// Unwrap returns the sentinel cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Address is an immutable actor address.
type Address struct {
	protocol Protocol
	payload  []byte
}

// Undef is the zero address.
var Undef = Address{}

// NewIDAddress returns the ID address for an actor ID.
func NewIDAddress(id uint64) Address {
	return Address{protocol: ID, payload: strconv.AppendUint(nil, id, 10)}
}

// NewFromBytes decodes the binary form protocol||payload.
func NewFromBytes(raw []byte) (Address, error) {
	if len(raw) == 0 {
		return Undef, &Error{Input: "", Err: ErrInvalidLength}
	}
	protocol := Protocol(raw[0])
	payload := raw[1:]

	if protocol == ID {
		id, n, err := varint.FromUvarint(payload)
		if err != nil || n != len(payload) {
			return Undef, &Error{Input: fmt.Sprintf("%x", raw), Err: ErrInvalidPayload}
		}
		return NewIDAddress(id), nil
	}

	if err := validatePayload(protocol, payload); err != nil {
		return Undef, &Error{Input: fmt.Sprintf("%x", raw), Err: err}
	}
	return Address{protocol: protocol, payload: append([]byte(nil), payload...)}, nil
}

// Parse decodes the textual form of an address.
func Parse(s string) (Address, error) {
	if len(s) < 3 || len(s) > maxAddressStringLength {
		return Undef, &Error{Input: s, Err: ErrInvalidLength}
	}
	if s[:1] != mainnetPrefix && s[:1] != testnetPrefix {
		return Undef, &Error{Input: s, Err: ErrUnknownNetwork}
	}

	var protocol Protocol
	switch s[1] {
	case '0':
		protocol = ID
	case '1':
		protocol = SECP256K1
	case '2':
		protocol = Actor
	case '3':
		protocol = BLS
	default:
		return Undef, &Error{Input: s, Err: ErrUnknownProtocol}
	}

	raw := s[2:]
	if protocol == ID {
		id, err := strconv.ParseUint(raw, 10, 63)
		if err != nil {
			return Undef, &Error{Input: s, Err: ErrInvalidPayload}
		}
		return NewIDAddress(id), nil
	}

	decoded, err := encoding.DecodeString(raw)
	if err != nil {
		return Undef, &Error{Input: s, Err: ErrInvalidPayload}
	}
	if len(decoded) < ChecksumHashLength {
		return Undef, &Error{Input: s, Err: ErrInvalidLength}
	}

	payload := decoded[:len(decoded)-ChecksumHashLength]
	sum := decoded[len(decoded)-ChecksumHashLength:]
	if err := validatePayload(protocol, payload); err != nil {
		return Undef, &Error{Input: s, Err: err}
	}
	if !bytes.Equal(sum, Checksum(append([]byte{byte(protocol)}, payload...))) {
		return Undef, &Error{Input: s, Err: ErrInvalidChecksum}
	}

	return Address{protocol: protocol, payload: payload}, nil
}

// Protocol returns the address protocol.
func (a Address) Protocol() Protocol {
	return a.protocol
}

// Empty reports whether a is the zero address.
func (a Address) Empty() bool {
	return len(a.payload) == 0
}

// ID returns the actor ID of an ID address.
func (a Address) ID() (uint64, error) {
	if a.protocol != ID || a.Empty() {
		return 0, &Error{Input: a.String(), Err: ErrUnknownProtocol}
	}
	return strconv.ParseUint(string(a.payload), 10, 64)
}

// Bytes returns the binary form protocol||payload.
func (a Address) Bytes() []byte {
	if a.protocol == ID {
		id, _ := a.ID()
		return append([]byte{byte(ID)}, varint.ToUvarint(id)...)
	}
	return append([]byte{byte(a.protocol)}, a.payload...)
}

// String returns the mainnet textual form.
func (a Address) String() string {
	return a.Format(Mainnet)
}

// Format returns the textual form for the given network.
func (a Address) Format(network Network) string {
	if a.Empty() {
		return "<empty>"
	}
	prefix := mainnetPrefix
	if network == Testnet {
		prefix = testnetPrefix
	}
	if a.protocol == ID {
		return prefix + "0" + string(a.payload)
	}
	sum := Checksum(append([]byte{byte(a.protocol)}, a.payload...))
	return prefix + strconv.Itoa(int(a.protocol)) + encoding.EncodeToString(append(append([]byte(nil), a.payload...), sum...))
}

// Checksum returns the 4-byte blake2b digest of data.
func Checksum(data []byte) []byte {
	h, err := blake2b.New(ChecksumHashLength, nil)
	if err != nil {
		// Only fails for sizes outside 1..64.
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

func validatePayload(protocol Protocol, payload []byte) error {
	switch protocol {
	case SECP256K1, Actor:
		if len(payload) != PayloadHashLength {
			return ErrInvalidLength
		}
	case BLS:
		if len(payload) != BlsPublicKeyBytes {
			return ErrInvalidLength
		}
	default:
		return ErrUnknownProtocol
	}
	return nil
}
