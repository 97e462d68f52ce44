// internal/modbus/client.go
package modbus

import (
	"context"
	"fmt"
)

// Client exposes the two operations the charge controllers need on top of a
// Transport. It is not safe for concurrent use.
type Client struct {
	tr *Transport
}

// NewClient wraps an established transport.
func NewClient(tr *Transport) *Client {
	return &Client{tr: tr}
}

// DialClient connects and wraps the transport in a Client.
func DialClient(ctx context.Context, cfg Config) (*Client, error) {
	tr, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(tr), nil
}

// ReadMultipleRegisters reads count holding registers starting at offset.
func (c *Client) ReadMultipleRegisters(offset, count uint16) (Registers, error) {
	if count == 0 || count > maxRegistersPerRead {
		return nil, fmt.Errorf("modbus: register count %d out of range 1..%d", count, maxRegistersPerRead)
	}

	resp, err := c.tr.Execute(ReadRegistersRequest{Offset: offset, Count: count})
	if err != nil {
		return nil, err
	}
	rr := resp.(*ReadRegistersResponse)

	if len(rr.Registers) != int(count) {
		return nil, malformed("read registers: byte count %d, want %d", 2*len(rr.Registers), 2*int(count))
	}
	return rr.Registers, nil
}

// ReadFileTransfer reads one block of the log category stored in file,
// starting at record offset. Past the end of the log the controller closes
// the connection, which surfaces as an IOFailure of kind EOF.
func (c *Client) ReadFileTransfer(offset, category, file uint16) (*FileTransferResponse, error) {
	resp, err := c.tr.Execute(ReadFileRecordRequest{
		File:     file,
		Record:   offset,
		Category: category,
	})
	if err != nil {
		return nil, err
	}
	return resp.(*FileTransferResponse), nil
}

// RemoteAddr returns the controller's address, or "" once closed.
func (c *Client) RemoteAddr() string { return c.tr.RemoteAddr() }

// Close closes the underlying transport.
func (c *Client) Close() error {
	if c == nil || c.tr == nil {
		return nil
	}
	return c.tr.Close()
}
