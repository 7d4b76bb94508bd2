// Package central is a GATT client for the simulated radio. It discovers a
// peripheral's services and reads or writes characteristics by UUID.
package central

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
	"github.com/user/bletera/wire"
	"github.com/user/bletera/wire/att"
	"github.com/user/bletera/wire/attdb"
)

// ErrNotFound is returned when a service or characteristic is not on the peer
var ErrNotFound = errors.New("central: not found")

// Characteristic is a discovered characteristic
type Characteristic struct {
	UUID        gatt.UUID
	Properties  gatt.Flags
	DeclHandle  uint16
	ValueHandle uint16
}

// Service is a discovered primary service
type Service struct {
	UUID            gatt.UUID
	Handle          uint16
	EndHandle       uint16
	Characteristics []Characteristic
}

// Client is one link to a peripheral
type Client struct {
	localID string
	conn    *wire.Conn
	tracker *att.RequestTracker

	mu       sync.Mutex
	services []Service
}

// Dial connects localID to the peripheral peerID
func Dial(ctx context.Context, localID, peerID string) (*Client, error) {
	conn, err := wire.Dial(ctx, localID, peerID)
	if err != nil {
		return nil, err
	}
	c := &Client{
		localID: localID,
		conn:    conn,
		tracker: att.NewRequestTracker(5 * time.Second),
	}
	conn.Serve(c.onATT, func(reason error) {
		logger.Debug(c.prefix(), "link closed: %v", reason)
		c.tracker.CancelPending()
	})
	return c, nil
}

func (c *Client) prefix() string {
	return util.ShortHash(c.localID) + " Central"
}

// Close drops the link
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed when the link is gone
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *Client) onATT(_ *wire.Conn, payload []byte) {
	pdu, err := att.DecodePacket(payload)
	if err != nil {
		logger.Warn(c.prefix(), "bad ATT PDU: %v", err)
		return
	}
	if err := c.tracker.CompleteRequest(pdu); err != nil {
		logger.Warn(c.prefix(), "%v", err)
	}
}

func (c *Client) request(ctx context.Context, req att.PDU, handle uint16) (att.PDU, error) {
	respC, err := c.tracker.StartRequest(req.Opcode(), handle)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(req); err != nil {
		c.tracker.CancelPending()
		return nil, err
	}
	return c.tracker.Wait(ctx, respC)
}

// DiscoverServices finds every primary service on the peer
func (c *Client) DiscoverServices(ctx context.Context) ([]Service, error) {
	var services []Service
	for start := uint16(0x0001); ; {
		resp, err := c.request(ctx, &att.ReadByGroupTypeRequest{
			StartHandle: start,
			EndHandle:   0xFFFF,
			Type:        attdb.TypePrimaryService.Bytes(),
		}, start)
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("central: discover services: %w", err)
		}

		entries := resp.(*att.ReadByGroupTypeResponse).Entries
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			u, err := gatt.UUIDFromBytes(e.Value)
			if err != nil {
				return nil, fmt.Errorf("central: service at 0x%04X: %w", e.Handle, err)
			}
			services = append(services, Service{UUID: u, Handle: e.Handle, EndHandle: e.EndGroupHandle})
		}
		last := entries[len(entries)-1].EndGroupHandle
		if last == 0xFFFF || last < start {
			break
		}
		start = last + 1
	}
	return services, nil
}

// DiscoverCharacteristics fills in the characteristics of svc
func (c *Client) DiscoverCharacteristics(ctx context.Context, svc *Service) error {
	svc.Characteristics = nil
	for start := svc.Handle + 1; start <= svc.EndHandle && start != 0; {
		resp, err := c.request(ctx, &att.ReadByTypeRequest{
			StartHandle: start,
			EndHandle:   svc.EndHandle,
			Type:        attdb.TypeCharacteristic.Bytes(),
		}, start)
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("central: discover characteristics of %s: %w", svc.UUID, err)
		}

		entries := resp.(*att.ReadByTypeResponse).Entries
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if len(e.Value) < 5 {
				return fmt.Errorf("central: short characteristic declaration at 0x%04X", e.Handle)
			}
			u, err := gatt.UUIDFromBytes(e.Value[3:])
			if err != nil {
				return fmt.Errorf("central: characteristic at 0x%04X: %w", e.Handle, err)
			}
			svc.Characteristics = append(svc.Characteristics, Characteristic{
				UUID:        u,
				Properties:  gatt.Flags(e.Value[0]),
				DeclHandle:  e.Handle,
				ValueHandle: binary.LittleEndian.Uint16(e.Value[1:3]),
			})
		}
		start = entries[len(entries)-1].Handle + 1
	}
	return nil
}

// Discover runs full service and characteristic discovery and caches the result
func (c *Client) Discover(ctx context.Context) ([]Service, error) {
	services, err := c.DiscoverServices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if err := c.DiscoverCharacteristics(ctx, &services[i]); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.services = services
	c.mu.Unlock()
	logger.Debug(c.prefix(), "discovered %d services", len(services))
	return services, nil
}

// Characteristic looks up a discovered characteristic, running discovery first if needed
func (c *Client) Characteristic(ctx context.Context, service, characteristic gatt.UUID) (Characteristic, error) {
	c.mu.Lock()
	services := c.services
	c.mu.Unlock()

	if services == nil {
		var err error
		if services, err = c.Discover(ctx); err != nil {
			return Characteristic{}, err
		}
	}
	for _, svc := range services {
		if !svc.UUID.Equal(service) {
			continue
		}
		for _, chr := range svc.Characteristics {
			if chr.UUID.Equal(characteristic) {
				return chr, nil
			}
		}
	}
	return Characteristic{}, fmt.Errorf("%w: %s/%s", ErrNotFound, service, characteristic)
}

// ReadHandle reads an attribute value by handle
func (c *Client) ReadHandle(ctx context.Context, handle uint16) ([]byte, error) {
	resp, err := c.request(ctx, &att.ReadRequest{Handle: handle}, handle)
	if err != nil {
		return nil, err
	}
	return resp.(*att.ReadResponse).Value, nil
}

// WriteHandle writes an attribute value by handle and waits for the response
func (c *Client) WriteHandle(ctx context.Context, handle uint16, value []byte) error {
	_, err := c.request(ctx, &att.WriteRequest{Handle: handle, Value: value}, handle)
	return err
}

// WriteCommand writes without response
func (c *Client) WriteCommand(handle uint16, value []byte) error {
	return c.conn.Send(&att.WriteCommand{Handle: handle, Value: value})
}

// Read reads a characteristic by UUID
func (c *Client) Read(ctx context.Context, service, characteristic gatt.UUID) ([]byte, error) {
	chr, err := c.Characteristic(ctx, service, characteristic)
	if err != nil {
		return nil, err
	}
	return c.ReadHandle(ctx, chr.ValueHandle)
}

// Write writes a characteristic by UUID
func (c *Client) Write(ctx context.Context, service, characteristic gatt.UUID, value []byte) error {
	chr, err := c.Characteristic(ctx, service, characteristic)
	if err != nil {
		return err
	}
	return c.WriteHandle(ctx, chr.ValueHandle, value)
}
