package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// MaxPayloadSize bounds one encoded channel payload accepted by Decode*.
var MaxPayloadSize = 4 << 20

// EncodeResponse renders resp as one base64 channel payload.
func EncodeResponse(resp Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return encode(raw), nil
}

// DecodeResponse parses one base64 channel payload into a validated response.
func DecodeResponse(payload []byte) (Response, error) {
	raw, err := decode(payload)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: json: %w", ErrProtocolDecode, err)
	}
	if err := resp.Validate(); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}
	return resp, nil
}

// EncodeRequest renders req as one base64 channel payload. A non-empty Raw is
// sent verbatim so controller-specific fields survive.
func EncodeRequest(req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw := []byte(req.Raw)
	if len(raw) == 0 {
		var err error
		raw, err = json.Marshal(req)
		if err != nil {
			return nil, err
		}
	}
	return encode(raw), nil
}

// DecodeRequest parses one base64 channel payload into a validated request.
func DecodeRequest(payload []byte) (Request, error) {
	raw, err := decode(payload)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: json: %w", ErrProtocolDecode, err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}
	req.Raw = json.RawMessage(raw)
	return req, nil
}

func encode(raw []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

func decode(payload []byte) ([]byte, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrProtocolDecode)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrProtocolDecode, ErrPayloadTooLarge, len(payload))
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrProtocolDecode, err)
	}
	raw = raw[:n]
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid utf-8", ErrProtocolDecode)
	}
	return raw, nil
}
