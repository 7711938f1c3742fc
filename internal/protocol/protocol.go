// Package protocol defines the wire format shared by the profkeeper client
// and server: size limits, command tags, response status codes and the codecs
// for length-prefixed fields, request blocks and responses.
//
// A request is a fixed-size RSA-encrypted block (the rblock) optionally
// followed by a variable-size AES-encrypted block (the ablock). The one
// exception is the KEY request, which is the literal "KEY" zero-padded to the
// rblock size and sent in the clear. Responses are AES-encrypted with the
// session key carried in the rblock and are terminated by connection close.
package protocol

import "errors"

const (
	// LenUname is the maximum length of a user name.
	LenUname = 64

	// LenPass is the maximum length of a password.
	LenPass = 128

	// LenContent is the maximum length of a user's content blob.
	LenContent = 1048576

	// LenRKBlock is the on-wire length of an rblock or kblock.
	LenRKBlock = 256

	// LenRSAPubKey is the length of a serialized RSA public key.
	LenRSAPubKey = 426

	// LenRBlockContent is the length of the rblock plaintext before RSA
	// encryption: tag, session key and ablock length, zero-padded.
	LenRBlockContent = 128

	// SessionKeySize is the number of session key bytes carried in an rblock.
	SessionKeySize = 32

	// TagSize is the length of a command tag.
	TagSize = 3

	// MaxABlockLen bounds the announced length of an encrypted ablock. The
	// largest legal plaintext is a SET request; the slack covers the field
	// length prefixes and the AEAD overhead.
	MaxABlockLen = LenContent + LenUname + LenPass + 64
)

// Command is a request tag. The parser may produce values outside the known
// set; the dispatcher answers those with ERR_INVALID_COMMAND.
type Command string

const (
	CmdKey Command = "KEY" // fetch the server's public key
	CmdReg Command = "REG" // register a new user
	CmdBye Command = "BYE" // authenticate and stop the server
	CmdSav Command = "SAV" // flush the account store to durable storage
	CmdSet Command = "SET" // replace the caller's content
	CmdGet Command = "GET" // fetch another user's content
	CmdAll Command = "ALL" // list all user names
)

// Response status literals, exactly as they appear on the wire.
const (
	StatusOK             = "OK"
	StatusErrUserExists  = "ERR_USER_EXISTS"
	StatusErrLogin       = "ERR_LOGIN"
	StatusErrMsgFmt      = "ERR_MSG_FMT"
	StatusErrNoData      = "ERR_NO_DATA"
	StatusErrNoUser      = "ERR_NO_USER"
	StatusErrInvalidCmd  = "ERR_INVALID_COMMAND"
	StatusErrXmit        = "ERR_XMIT"
	StatusErrCrypto      = "ERR_CRYPTO"
)

// Sentinel errors, one per status code plus the connection-local transmission
// failure. Store and codec operations return these (possibly wrapped); the
// dispatcher maps them back to status literals with StatusFor.
var (
	ErrUserExists     = errors.New("user already exists")
	ErrLogin          = errors.New("bad username or password")
	ErrMsgFormat      = errors.New("malformed message")
	ErrNoData         = errors.New("user has no content")
	ErrNoUser         = errors.New("no such user")
	ErrInvalidCommand = errors.New("unknown command")
	ErrXmit           = errors.New("short transmission")
	ErrCrypto         = errors.New("crypto failure")
)

// StatusFor maps err to its wire status literal. A nil error is StatusOK.
// Errors outside the protocol taxonomy (for example a failed snapshot write
// during SAV) fall back to ERR_XMIT, the only generic failure literal the
// wire format provides.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUserExists):
		return StatusErrUserExists
	case errors.Is(err, ErrLogin):
		return StatusErrLogin
	case errors.Is(err, ErrMsgFormat):
		return StatusErrMsgFmt
	case errors.Is(err, ErrNoData):
		return StatusErrNoData
	case errors.Is(err, ErrNoUser):
		return StatusErrNoUser
	case errors.Is(err, ErrInvalidCommand):
		return StatusErrInvalidCmd
	case errors.Is(err, ErrCrypto):
		return StatusErrCrypto
	default:
		return StatusErrXmit
	}
}

// ErrorFor is the inverse of StatusFor, used by the client to turn a received
// status literal back into a sentinel error. StatusOK maps to nil.
func ErrorFor(status string) error {
	switch status {
	case StatusOK:
		return nil
	case StatusErrUserExists:
		return ErrUserExists
	case StatusErrLogin:
		return ErrLogin
	case StatusErrMsgFmt:
		return ErrMsgFormat
	case StatusErrNoData:
		return ErrNoData
	case StatusErrNoUser:
		return ErrNoUser
	case StatusErrInvalidCmd:
		return ErrInvalidCommand
	case StatusErrCrypto:
		return ErrCrypto
	default:
		return ErrXmit
	}
}

// knownStatus reports whether s is one of the wire status literals.
func knownStatus(s string) bool {
	switch s {
	case StatusOK, StatusErrUserExists, StatusErrLogin, StatusErrMsgFmt,
		StatusErrNoData, StatusErrNoUser, StatusErrInvalidCmd,
		StatusErrXmit, StatusErrCrypto:
		return true
	}
	return false
}
