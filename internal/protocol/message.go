package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RBlockContent is the plaintext of a request's fixed-size leading block:
// the command tag, the single-use session key and the length of the
// encrypted ablock that follows on the wire.
type RBlockContent struct {
	Cmd        Command
	SessionKey []byte
	ABlockLen  int
}

// EncodeKBlock returns the unencrypted KEY request: the "KEY" tag zero-padded
// to the rblock size.
func EncodeKBlock() []byte {
	b := make([]byte, LenRKBlock)
	copy(b, CmdKey)
	return b
}

// IsKBlock reports whether a raw leading block is the cleartext KEY request.
func IsKBlock(block []byte) bool {
	return bytes.Equal(block, EncodeKBlock())
}

// EncodeRBlockContent lays out tag, session key and ablock length, zero-padded
// to LenRBlockContent bytes, ready for RSA encryption by the client.
func EncodeRBlockContent(cmd Command, sessionKey []byte, ablockLen int) ([]byte, error) {
	if len(cmd) != TagSize {
		return nil, fmt.Errorf("%w: tag %q is not %d bytes", ErrMsgFormat, cmd, TagSize)
	}
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key is %d bytes, want %d", ErrMsgFormat, len(sessionKey), SessionKeySize)
	}
	if ablockLen < 0 || ablockLen > MaxABlockLen {
		return nil, fmt.Errorf("%w: ablock length %d out of range", ErrMsgFormat, ablockLen)
	}
	b := make([]byte, LenRBlockContent)
	copy(b, cmd)
	copy(b[TagSize:], sessionKey)
	binary.LittleEndian.PutUint32(b[TagSize+SessionKeySize:], uint32(ablockLen))
	return b, nil
}

// DecodeRBlockContent is the inverse of EncodeRBlockContent. The tag is not
// validated against the known command set here; the dispatcher answers
// unknown tags with ERR_INVALID_COMMAND. The announced ablock length is
// bounded so a hostile rblock cannot make the server allocate or read an
// unbounded amount; that rejection returns ErrMsgFormat together with the
// already-parsed tag and session key, so the caller can still answer over
// the symmetric channel.
func DecodeRBlockContent(plain []byte) (*RBlockContent, error) {
	if len(plain) != LenRBlockContent {
		return nil, fmt.Errorf("%w: rblock content is %d bytes, want %d", ErrCrypto, len(plain), LenRBlockContent)
	}
	key := make([]byte, SessionKeySize)
	copy(key, plain[TagSize:])
	rb := &RBlockContent{
		Cmd:        Command(plain[:TagSize]),
		SessionKey: key,
	}
	n := binary.LittleEndian.Uint32(plain[TagSize+SessionKeySize:])
	if n == 0 || n > MaxABlockLen {
		return rb, fmt.Errorf("%w: announced ablock length %d out of range", ErrMsgFormat, n)
	}
	rb.ABlockLen = int(n)
	return rb, nil
}

// Request is a fully parsed client request.
type Request struct {
	Cmd     Command
	User    string
	Pass    string
	Content []byte // SET only
	Target  string // GET only
}

// EncodeRequest returns the plaintext ablock for req, ready for symmetric
// encryption by the client.
func EncodeRequest(req *Request) ([]byte, error) {
	var b []byte
	b = AppendField(b, []byte(req.User))
	b = AppendField(b, []byte(req.Pass))
	switch req.Cmd {
	case CmdReg, CmdBye, CmdSav, CmdAll:
	case CmdSet:
		b = AppendField(b, req.Content)
	case CmdGet:
		b = AppendField(b, []byte(req.Target))
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, req.Cmd)
	}
	return b, nil
}

// ParseRequest decodes the decrypted ablock for cmd, validating every field
// against its protocol maximum and rejecting trailing bytes.
func ParseRequest(cmd Command, plain []byte) (*Request, error) {
	switch cmd {
	case CmdReg, CmdBye, CmdSav, CmdSet, CmdGet, CmdAll:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}

	r := NewFieldReader(plain)
	user, err := r.Next(LenUname)
	if err != nil {
		return nil, err
	}
	pass, err := r.Next(LenPass)
	if err != nil {
		return nil, err
	}
	req := &Request{Cmd: cmd, User: string(user), Pass: string(pass)}

	switch cmd {
	case CmdSet:
		content, err := r.Next(LenContent)
		if err != nil {
			return nil, err
		}
		req.Content = content
	case CmdGet:
		target, err := r.Next(LenUname)
		if err != nil {
			return nil, err
		}
		req.Target = string(target)
	}

	if err := r.Close(); err != nil {
		return nil, err
	}
	return req, nil
}

// Response is a decoded server response: a status literal and, for GET and
// ALL successes, a payload. A nil payload means the status carried none; a
// zero-length payload is a valid, distinct value.
type Response struct {
	Status  string
	Payload []byte
}

// EncodeResponse writes the status literal, followed by a length-prefixed
// payload when one is present, ready for symmetric encryption.
func EncodeResponse(status string, payload []byte) []byte {
	b := []byte(status)
	if payload != nil {
		b = AppendField(b, payload)
	}
	return b
}

// DecodeResponse is the client-side inverse of EncodeResponse. Payloads only
// ever follow an OK status; every other well-formed response is exactly one
// status literal.
func DecodeResponse(plain []byte) (*Response, error) {
	if s := string(plain); knownStatus(s) {
		return &Response{Status: s}, nil
	}
	if !bytes.HasPrefix(plain, []byte(StatusOK)) {
		return nil, fmt.Errorf("%w: unrecognized response", ErrMsgFormat)
	}
	r := NewFieldReader(plain[len(StatusOK):])
	payload, err := r.Next(LenContent)
	if err != nil {
		return nil, err
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return &Response{Status: StatusOK, Payload: payload}, nil
}
