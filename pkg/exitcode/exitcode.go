// Package exitcode defines the normative outcome codes produced by actor
// execution and the actor-level fault type that carries one. The codes are
// the Filecoin state types' exit codes; this package adds the names used in
// receipts and the kernel-only placeholder.
package exitcode

import (
	"sort"
	"strconv"

	gst "github.com/filecoin-project/go-state-types/exitcode"
)

// ExitCode is the outcome of a message executing inside the kernel.
type ExitCode = gst.ExitCode

const (
	Ok = gst.Ok

	SysErrSenderInvalid      = gst.SysErrSenderInvalid
	SysErrSenderStateInvalid = gst.SysErrSenderStateInvalid
	SysErrInvalidMethod      = gst.SysErrInvalidMethod
	SysErrReserved1          = gst.SysErrReserved1
	SysErrInvalidReceiver    = gst.SysErrInvalidReceiver
	SysErrInsufficientFunds  = gst.SysErrInsufficientFunds
	SysErrOutOfGas           = gst.SysErrOutOfGas
	SysErrForbidden          = gst.SysErrForbidden

	// SysErrIllegalActor is raised when an actor aborts with a reserved code.
	SysErrIllegalActor = gst.SysErrorIllegalActor

	// SysErrIllegalArgument is raised for malformed host call arguments.
	SysErrIllegalArgument = gst.SysErrorIllegalArgument

	SysErrReserved2 = gst.SysErrReserved2
	SysErrReserved3 = gst.SysErrReserved3
	SysErrReserved4 = gst.SysErrReserved4
	SysErrReserved5 = gst.SysErrReserved5
	SysErrReserved6 = gst.SysErrReserved6

	ErrIllegalArgument   = gst.ErrIllegalArgument
	ErrNotFound          = gst.ErrNotFound
	ErrForbidden         = gst.ErrForbidden
	ErrInsufficientFunds = gst.ErrInsufficientFunds
	ErrIllegalState      = gst.ErrIllegalState
	ErrSerialization     = gst.ErrSerialization

	FirstActorSpecificExitCode = gst.FirstActorSpecificExitCode

	// ErrPlaceholder is the code reported for faults that could not be
	// classified. It is shared by every system fault.
	ErrPlaceholder = ExitCode(1000)
)

var names = map[ExitCode]string{
	Ok:                       "Ok",
	SysErrSenderInvalid:      "SysErrSenderInvalid",
	SysErrSenderStateInvalid: "SysErrSenderStateInvalid",
	SysErrInvalidMethod:      "SysErrInvalidMethod",
	SysErrReserved1:          "SysErrReserved1",
	SysErrInvalidReceiver:    "SysErrInvalidReceiver",
	SysErrInsufficientFunds:  "SysErrInsufficientFunds",
	SysErrOutOfGas:           "SysErrOutOfGas",
	SysErrForbidden:          "SysErrForbidden",
	SysErrIllegalActor:       "SysErrIllegalActor",
	SysErrIllegalArgument:    "SysErrIllegalArgument",
	SysErrReserved2:          "SysErrReserved2",
	SysErrReserved3:          "SysErrReserved3",
	SysErrReserved4:          "SysErrReserved4",
	SysErrReserved5:          "SysErrReserved5",
	SysErrReserved6:          "SysErrReserved6",
	ErrIllegalArgument:       "ErrIllegalArgument",
	ErrNotFound:              "ErrNotFound",
	ErrForbidden:             "ErrForbidden",
	ErrInsufficientFunds:     "ErrInsufficientFunds",
	ErrIllegalState:          "ErrIllegalState",
	ErrSerialization:         "ErrSerialization",
	ErrPlaceholder:           "ErrPlaceholder",
}

// Name returns the symbolic name of code, or its decimal value for
// actor-specific codes.
func Name(code ExitCode) string {
	if name, ok := names[code]; ok {
		return name
	}
	return strconv.FormatInt(int64(code), 10)
}

// IsSystem reports whether code is reserved to the kernel. Actors must
// never abort with one of these.
func IsSystem(code ExitCode) bool {
	return code >= SysErrSenderInvalid && code < gst.FirstActorErrorCode
}

// All returns every named exit code in ascending order.
func All() []ExitCode {
	codes := make([]ExitCode, 0, len(names))
	for code := range names {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
