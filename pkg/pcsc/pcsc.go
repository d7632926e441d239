// Package pcsc drives a local smart-card reader over PC/SC. It offers the
// same logical-exchange semantics as the modem transport (automatic GET
// RESPONSE draining, wrong-length retry) for bench work against a physical
// eUICC in a reader.
package pcsc

import (
	"fmt"

	"github.com/ebfe/scard"

	"github.com/cardside/euicc/pkg/apdu"
)

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages high-level communication with the card: it sends one
// logical command and resolves the T=0 transport behaviors the card may
// expose.
//
// 1. "61 XX" (Response Available): XX bytes are waiting; the client issues
// GET RESPONSE on the same logical channel until the card stops signalling.
//
// 2. "6C XX" (Wrong Length): the expected length was incorrect and the card
// suggests XX; the client re-sends the original command with Le = XX.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and returns the fully reassembled response.
func (c *Client) Send(cmd *apdu.Command) (apdu.Response, error) {
	acc := apdu.NewAccumulator(cmd.Class)

	resp, err := c.transmitOne(cmd)
	if err != nil {
		return apdu.Response{}, err
	}

	// Case 6CXX: re-issue the original command with the suggested Le.
	// Clone so the caller's command is not mutated.
	if resp.SW.IsWrongLength() {
		retry := *cmd
		retry.Le = int(resp.SW.SW2())
		resp, err = c.transmitOne(&retry)
		if err != nil {
			return apdu.Response{}, err
		}
	}

	acc.AbsorbResponse(resp)

	// Case 61XX: drain the pending bytes with GET RESPONSE.
	for acc.MorePayloadIncoming() {
		resp, err = c.transmitOne(acc.ContinuationCommand())
		if err != nil {
			return apdu.Response{}, err
		}
		acc.AbsorbResponse(resp)
	}

	return acc.Response(), nil
}

func (c *Client) transmitOne(cmd *apdu.Command) (apdu.Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return apdu.Response{}, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(raw)
	if err != nil {
		return apdu.Response{}, fmt.Errorf("transmission error: %w", err)
	}

	return apdu.ParseResponse(rawResp)
}

// Conn bundles the PC/SC context and card connection.
type Conn struct {
	ctx  *scard.Context
	card *scard.Card
}

// Connect establishes a PC/SC context and connects to the first available
// reader, forcing T=0 or T=1 to avoid parameter errors on picky readers.
func Connect() (*Conn, string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, "", fmt.Errorf("establishing context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, "", fmt.Errorf("no smart card reader found")
	}

	card, err := ctx.Connect(readers[0], scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		ctx.Release()
		return nil, "", fmt.Errorf("connecting to card: %w", err)
	}

	return &Conn{ctx: ctx, card: card}, readers[0], nil
}

// Transmit sends one raw APDU to the card.
func (c *Conn) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

// Close disconnects the card and releases the context.
func (c *Conn) Close() error {
	err := c.card.Disconnect(scard.LeaveCard)
	if relErr := c.ctx.Release(); err == nil {
		err = relErr
	}
	return err
}
