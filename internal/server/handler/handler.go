// Package handler runs the wire protocol state machine for accepted
// connections: read rblock, branch on KEY, decrypt, parse, authenticate,
// execute against the account store, respond, and report whether the server
// must halt.
package handler

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"

	"profkeeper/internal/cryptox"
	"profkeeper/internal/logging"
	"profkeeper/internal/protocol"
	"profkeeper/internal/server/store"
)

type Handler struct {
	channel cryptox.Channel
	store   store.Store
	logger  logging.Logger
}

func New(channel cryptox.Channel, st store.Store, logger logging.Logger) *Handler {
	return &Handler{
		channel: channel,
		store:   st,
		logger:  logger.With("module", "handler"),
	}
}

// Serve handles exactly one request/response exchange on conn and reports
// whether the server must halt once the response has been flushed (true only
// for an authenticated BYE). The connection is closed on return; closing is
// what marks the end of the response for the client.
//
// Transmission failures (short reads) get no response; the connection is
// simply dropped. Crypto failures that occur before the session key is known
// are answered with the unencrypted ERR_CRYPTO sentinel. Once the rblock has
// decrypted and handed over a session key, every answer travels encrypted,
// exactly once.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()

	log := h.logger.With("conn_id", uuid.NewString())
	if addr := conn.RemoteAddr(); addr != nil {
		log = log.With("remote", addr.String())
	}

	rblock := make([]byte, protocol.LenRKBlock)
	if _, err := io.ReadFull(conn, rblock); err != nil {
		log.Warn(ctx, "short rblock read", "error", err.Error())
		return false
	}

	// KEY is the one cleartext command: no RSA, no symmetric phase, the raw
	// public key bytes are the whole response.
	if protocol.IsKBlock(rblock) {
		if _, err := conn.Write(h.channel.SerializePublicKey()); err != nil {
			log.Warn(ctx, "public key write failed", "error", err.Error())
			return false
		}
		log.Info(ctx, "request served", "cmd", string(protocol.CmdKey), "status", protocol.StatusOK)
		return false
	}

	content, err := h.channel.DecryptBlock(rblock)
	if err != nil {
		log.Warn(ctx, "rblock decrypt failed", "error", err.Error())
		h.writeSentinel(ctx, conn, log)
		return false
	}

	rb, err := protocol.DecodeRBlockContent(content)
	if err != nil {
		log.Warn(ctx, "rblock content invalid", "error", err.Error())
		if rb != nil {
			// The session key decrypted fine; only the announced length is
			// bad, so the error can travel encrypted like any other.
			h.respond(ctx, conn, rb.SessionKey, rb.Cmd, nil, err, log)
		} else {
			h.writeSentinel(ctx, conn, log)
		}
		return false
	}

	ablock := make([]byte, rb.ABlockLen)
	if _, err := io.ReadFull(conn, ablock); err != nil {
		log.Warn(ctx, "short ablock read", "cmd", string(rb.Cmd), "error", err.Error())
		return false
	}

	plain, err := h.channel.DecryptPayload(rb.SessionKey, ablock)
	if err != nil {
		// Decryption is what failed, so an encrypted error cannot be
		// produced either; same unencrypted sentinel as the rblock path.
		log.Warn(ctx, "ablock decrypt failed", "cmd", string(rb.Cmd), "error", err.Error())
		h.writeSentinel(ctx, conn, log)
		return false
	}

	req, err := protocol.ParseRequest(rb.Cmd, plain)
	if err != nil {
		log.Warn(ctx, "request parse failed", "cmd", string(rb.Cmd), "error", err.Error())
		h.respond(ctx, conn, rb.SessionKey, rb.Cmd, nil, err, log)
		return false
	}

	payload, err := h.execute(ctx, req)
	flushed := h.respond(ctx, conn, rb.SessionKey, req.Cmd, payload, err, log)

	// The halt signal is delivered only after the OK has reached the wire.
	return req.Cmd == protocol.CmdBye && err == nil && flushed
}

// execute authenticates (REG excepted) and runs the store operation,
// returning the success payload if the command has one.
func (h *Handler) execute(ctx context.Context, req *protocol.Request) ([]byte, error) {
	if req.Cmd != protocol.CmdReg {
		if err := h.store.Authenticate(ctx, req.User, req.Pass); err != nil {
			return nil, err
		}
	}

	switch req.Cmd {
	case protocol.CmdReg:
		return nil, h.store.Create(ctx, req.User, req.Pass)
	case protocol.CmdBye:
		return nil, nil
	case protocol.CmdSav:
		return nil, h.store.Persist(ctx)
	case protocol.CmdSet:
		return nil, h.store.SetContent(ctx, req.User, req.Content)
	case protocol.CmdGet:
		return h.store.GetContent(ctx, req.Target)
	case protocol.CmdAll:
		names, err := h.store.ListUsernames(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(strings.Join(names, "\n")), nil
	default:
		return nil, protocol.ErrInvalidCommand
	}
}

// respond encrypts and writes the single response for a decrypted request,
// reporting whether it was fully flushed.
func (h *Handler) respond(ctx context.Context, conn net.Conn, key []byte, cmd protocol.Command, payload []byte, opErr error, log logging.Logger) bool {
	status := protocol.StatusFor(opErr)
	if opErr != nil {
		payload = nil
		log.Warn(ctx, "request failed", "cmd", string(cmd), "status", status, "error", opErr.Error())
	}

	body, err := h.channel.EncryptPayload(key, protocol.EncodeResponse(status, payload))
	if err != nil {
		log.Error(ctx, "response encrypt failed", "cmd", string(cmd), "error", err.Error())
		return false
	}
	if _, err := conn.Write(body); err != nil {
		log.Warn(ctx, "response write failed", "cmd", string(cmd), "error", err.Error())
		return false
	}
	if opErr == nil {
		log.Info(ctx, "request served", "cmd", string(cmd), "status", status)
	}
	return true
}

// writeSentinel emits the unencrypted ERR_CRYPTO literal, the only response
// possible when no trusted session key exists.
func (h *Handler) writeSentinel(ctx context.Context, conn net.Conn, log logging.Logger) {
	if _, err := conn.Write([]byte(protocol.StatusErrCrypto)); err != nil {
		log.Warn(ctx, "sentinel write failed", "error", err.Error())
	}
}
