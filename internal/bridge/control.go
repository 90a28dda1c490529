package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/danmuck/bridgectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const controlIdleTimeout = 2 * time.Minute

// controlRequest is one line on the TCP control channel.
type controlRequest struct {
	Action  string `json:"action"`
	Payload string `json:"payload,omitempty"`
}

// controlResponse answers one controlRequest. Payload carries the buffered
// setup response on reads and is empty when nothing is buffered.
type controlResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// serveControl accepts control connections on ln until ctx is done.
func (s *Service) serveControl(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("bridge", s.cfg.BridgeID).Str("addr", ln.Addr().String()).Msg("control listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleControlConn(ctx, conn)
	}
}

// handleControlConn reads one request per line and writes one response per
// line. The remote address identifies the controller.
func (s *Service) handleControlConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	host, _, _ := net.SplitHostPort(remote)
	ctl := s.controller(remote, host)
	active := s.controlClients.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("control client connected")
	defer func() {
		remaining := s.controlClients.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("control client disconnected")
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	reader := bufio.NewReaderSize(conn, 64*1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(controlIdleTimeout))
		line, err := readLine(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn().Err(err).Str("remote", remote).Msg("control read failed")
			}
			return
		}
		if len(line) == 0 {
			continue
		}
		var req controlRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeControlResponse(conn, controlResponse{OK: false, Error: err.Error()})
			continue
		}
		if err := writeControlResponse(conn, s.handleControlRequest(req, ctl)); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("control write failed")
			return
		}
	}
}

func (s *Service) handleControlRequest(req controlRequest, ctl *session.Controller) controlResponse {
	switch req.Action {
	case "write":
		if err := s.manager.HandleWrite([]byte(req.Payload), ctl); err != nil {
			log.Debug().Err(err).Msg("control write not applied")
		}
		return controlResponse{OK: true}
	case "read":
		return controlResponse{OK: true, Payload: string(s.manager.HandleRead(ctl))}
	case "status":
		st := s.manager.Status()
		data, _ := json.Marshal(st)
		return controlResponse{OK: true, Payload: string(data)}
	default:
		return controlResponse{OK: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

// readLine returns one newline-terminated line, refusing lines longer than a
// maximal setup payload plus framing.
func readLine(r *bufio.Reader) ([]byte, error) {
	maxLine := envelope.MaxPayloadSize + 1024
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLine {
			return nil, fmt.Errorf("control line exceeds %d bytes", maxLine)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func writeControlResponse(w io.Writer, resp controlResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
