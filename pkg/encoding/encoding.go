// Package encoding provides the deterministic CBOR codec used for kernel
// state and IPLD blocks.
package encoding

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolCbor names the only codec protocol the kernel speaks.
const ProtocolCbor = "cbor"

// Error is a serialization failure.
type Error struct {
	// Description is the codec's description of what went wrong.
	Description string

	// Protocol is the codec protocol that failed.
	Protocol string

	// Err is the underlying codec error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("serialization error for %s protocol: %s", e.Protocol, e.Description)
}

// Unwrap returns the underlying codec error.
func (e *Error) Unwrap() error {
	return e.Err
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("encoding: invalid cbor encode options: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("encoding: invalid cbor decode options: %v", err))
	}
}

// Marshal encodes v using deterministic CBOR.
func Marshal(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, newError(err)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return newError(err)
	}
	return nil
}

// Wellformed checks that data is a single well-formed CBOR item.
func Wellformed(data []byte) error {
	if err := decMode.Wellformed(data); err != nil {
		return newError(err)
	}
	return nil
}

func newError(err error) *Error {
	return &Error{
		Description: err.Error(),
		Protocol:    ProtocolCbor,
		Err:         err,
	}
}
