package identity

import (
	"strconv"
	"strings"
)

const (
	payloadVersionV1 = "v1"
	payloadVersionV2 = "v2"
	payloadDelimiter = "|"
)

// AuthPayload holds the fields the gateway reconstructs to verify a device
// signature. Field order in String is part of the wire contract.
type AuthPayload struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	// Nonce is the server-issued challenge. Empty means no challenge has been
	// received and the v1 form is produced.
	Nonce string
}

// Version reports "v2" once a nonce is known and "v1" before.
func (p AuthPayload) Version() string {
	if p.Nonce != "" {
		return payloadVersionV2
	}
	return payloadVersionV1
}

func (p AuthPayload) String() string {
	version := p.Version()
	fields := []string{
		version,
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.Token,
	}
	if version == payloadVersionV2 {
		fields = append(fields, p.Nonce)
	}
	return strings.Join(fields, payloadDelimiter)
}

// SignAuthPayload builds the payload string and signs it.
func (d *DeviceIdentity) SignAuthPayload(p AuthPayload) (payload string, signature string) {
	payload = p.String()
	return payload, d.Sign([]byte(payload))
}
