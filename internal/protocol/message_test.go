package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionKey() []byte {
	key := make([]byte, SessionKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestKBlock(t *testing.T) {
	kb := EncodeKBlock()
	require.Len(t, kb, LenRKBlock)
	assert.Equal(t, []byte(CmdKey), kb[:TagSize])
	for _, b := range kb[TagSize:] {
		require.Zero(t, b)
	}
	assert.True(t, IsKBlock(kb))
	assert.False(t, IsKBlock(kb[:LenRKBlock-1]))

	other := EncodeKBlock()
	other[10] = 1
	assert.False(t, IsKBlock(other))
}

func TestRBlockContent_RoundTrip(t *testing.T) {
	key := testSessionKey()
	plain, err := EncodeRBlockContent(CmdSet, key, 12345)
	require.NoError(t, err)
	require.Len(t, plain, LenRBlockContent)

	rb, err := DecodeRBlockContent(plain)
	require.NoError(t, err)
	assert.Equal(t, CmdSet, rb.Cmd)
	assert.Equal(t, key, rb.SessionKey)
	assert.Equal(t, 12345, rb.ABlockLen)
}

func TestEncodeRBlockContent_Invalid(t *testing.T) {
	key := testSessionKey()

	_, err := EncodeRBlockContent("TOOLONG", key, 1)
	require.Error(t, err)

	_, err = EncodeRBlockContent(CmdReg, key[:5], 1)
	require.Error(t, err)

	_, err = EncodeRBlockContent(CmdReg, key, MaxABlockLen+1)
	require.Error(t, err)
}

func TestDecodeRBlockContent_BadLengths(t *testing.T) {
	rb, err := DecodeRBlockContent(make([]byte, LenRBlockContent-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCrypto))
	assert.Nil(t, rb)

	// Announced ablock length of zero: there is always an ablock after a
	// non-KEY rblock, so zero is malformed. The tag and session key still
	// come back so the rejection can be answered encrypted.
	key := testSessionKey()
	plain, err := EncodeRBlockContent(CmdReg, key, 1)
	require.NoError(t, err)
	plain[TagSize+SessionKeySize] = 0
	rb, err = DecodeRBlockContent(plain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMsgFormat))
	require.NotNil(t, rb)
	assert.Equal(t, CmdReg, rb.Cmd)
	assert.Equal(t, key, rb.SessionKey)

	// Announced length beyond the protocol bound.
	plain, err = EncodeRBlockContent(CmdReg, key, 1)
	require.NoError(t, err)
	copy(plain[TagSize+SessionKeySize:], []byte{0xFF, 0xFF, 0xFF, 0xFF})
	rb, err = DecodeRBlockContent(plain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMsgFormat))
	require.NotNil(t, rb)
	assert.Equal(t, key, rb.SessionKey)
}

func TestRequest_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"reg", &Request{Cmd: CmdReg, User: "alice", Pass: "secret123"}},
		{"bye", &Request{Cmd: CmdBye, User: "alice", Pass: "secret123"}},
		{"sav", &Request{Cmd: CmdSav, User: "alice", Pass: "secret123"}},
		{"all", &Request{Cmd: CmdAll, User: "alice", Pass: "secret123"}},
		{"set", &Request{Cmd: CmdSet, User: "alice", Pass: "secret123", Content: []byte("hello")}},
		{"set empty content", &Request{Cmd: CmdSet, User: "alice", Pass: "secret123", Content: []byte{}}},
		{"get", &Request{Cmd: CmdGet, User: "alice", Pass: "secret123", Target: "bob"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plain, err := EncodeRequest(tc.req)
			require.NoError(t, err)

			got, err := ParseRequest(tc.req.Cmd, plain)
			require.NoError(t, err)
			assert.Equal(t, tc.req, got)
		})
	}
}

func TestParseRequest_UnknownCommand(t *testing.T) {
	_, err := ParseRequest("XYZ", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCommand))
}

func TestParseRequest_FieldErrors(t *testing.T) {
	longUser := bytes.Repeat([]byte("a"), LenUname+1)

	tests := []struct {
		name  string
		cmd   Command
		plain []byte
	}{
		{"empty buffer", CmdReg, nil},
		{"username too long", CmdReg, AppendField(nil, longUser)},
		{"missing password", CmdReg, AppendField(nil, []byte("alice"))},
		{"missing content", CmdSet, AppendField(AppendField(nil, []byte("alice")), []byte("pw"))},
		{
			"trailing bytes", CmdReg,
			append(AppendField(AppendField(nil, []byte("alice")), []byte("pw")), 0x00),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest(tc.cmd, tc.plain)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMsgFormat))
		})
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		payload []byte
	}{
		{"ok no payload", StatusOK, nil},
		{"ok with payload", StatusOK, []byte("hello")},
		{"ok empty payload", StatusOK, []byte{}},
		{"error", StatusErrLogin, nil},
		{"longest error", StatusErrInvalidCmd, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := EncodeResponse(tc.status, tc.payload)
			got, err := DecodeResponse(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.payload, got.Payload)
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		plain []byte
	}{
		{"empty", nil},
		{"unknown literal", []byte("NOPE")},
		{"ok with truncated payload", EncodeResponse(StatusOK, []byte("hello"))[:5]},
		{"ok with trailing bytes", append(EncodeResponse(StatusOK, []byte("x")), 0xFF)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResponse(tc.plain)
			require.Error(t, err)
		})
	}
}

func TestStatusErrorMapping(t *testing.T) {
	errs := []error{
		nil, ErrUserExists, ErrLogin, ErrMsgFormat, ErrNoData,
		ErrNoUser, ErrInvalidCommand, ErrXmit, ErrCrypto,
	}
	for _, err := range errs {
		assert.Equal(t, err, ErrorFor(StatusFor(err)))
	}

	// Errors outside the taxonomy fall back to the generic failure literal.
	assert.Equal(t, StatusErrXmit, StatusFor(errors.New("disk full")))
	assert.Equal(t, ErrXmit, ErrorFor("SOMETHING_ELSE"))
}
