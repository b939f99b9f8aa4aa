package handshake

import (
	"naia/bitio"
	"naia/internal/ids"
)

const maxTokenLen = 4096

// identifyRequestPayload carries the client's opaque identity token,
// obtained out-of-band (e.g. from the application's login flow) before
// the handshake begins.
type identifyRequestPayload struct {
	Token []byte
}

func writeIdentifyRequest(w bitio.BitSink, p identifyRequestPayload) error {
	return bitio.WriteBytesP(w, p.Token)
}

func readIdentifyRequest(r *bitio.Reader) (identifyRequestPayload, error) {
	tok, err := bitio.ReadBytesP(r, maxTokenLen)
	return identifyRequestPayload{Token: tok}, err
}

// identifyResponsePayload carries the anti-spoofing cookie the client
// must echo back in its ConnectRequest.
type identifyResponsePayload struct {
	Cookie []byte
}

func writeIdentifyResponse(w bitio.BitSink, p identifyResponsePayload) error {
	return bitio.WriteBytesP(w, p.Cookie)
}

func readIdentifyResponse(r *bitio.Reader) (identifyResponsePayload, error) {
	c, err := bitio.ReadBytesP(r, 256)
	return identifyResponsePayload{Cookie: c}, err
}

// connectRequestPayload echoes the cookie and the original token, so the
// server can check the token at Connect without retaining per-address
// state across the two phases. Identify maps the token to no UserKey; a
// key is assigned only when the server accepts the Connect.
type connectRequestPayload struct {
	Cookie []byte
	Token  []byte
}

func writeConnectRequest(w bitio.BitSink, p connectRequestPayload) error {
	if err := bitio.WriteBytesP(w, p.Cookie); err != nil {
		return err
	}
	return bitio.WriteBytesP(w, p.Token)
}

func readConnectRequest(r *bitio.Reader) (connectRequestPayload, error) {
	var p connectRequestPayload
	var err error
	if p.Cookie, err = bitio.ReadBytesP(r, 256); err != nil {
		return p, err
	}
	p.Token, err = bitio.ReadBytesP(r, maxTokenLen)
	return p, err
}

// connectResponsePayload carries the UserKey the server assigned this
// connection.
type connectResponsePayload struct {
	UserKey ids.UserKey
}

func writeConnectResponse(w bitio.BitSink, p connectResponsePayload) error {
	return w.WriteBytes(p.UserKey[:])
}

func readConnectResponse(r *bitio.Reader) (connectResponsePayload, error) {
	b, err := r.ReadBytes(16)
	if err != nil {
		return connectResponsePayload{}, err
	}
	var key ids.UserKey
	copy(key[:], b)
	return connectResponsePayload{UserKey: key}, nil
}
