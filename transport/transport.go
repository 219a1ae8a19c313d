// Package transport connects a charge point to the central system over the
// OCPP-J websocket.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ws"
	"github.com/sirupsen/logrus"

	"charge_point/catalog"
)

var ErrNotConnected = errors.New("websocket not connected")

// wsClient is the subset of the ocpp-go websocket client used here.
type wsClient interface {
	Start(url string) error
	Stop()
	Write(data []byte) error
	Errors() <-chan error
	SetMessageHandler(handler func(data []byte) error)
	SetDisconnectedHandler(handler func(err error))
	SetReconnectedHandler(handler func())
	SetRequestedSubProtocol(subProto string)
	SetBasicAuth(username string, password string)
}

// Handler receives connection events. OnOpen gets a fresh connection id for
// every (re)connect.
type Handler interface {
	HandleFrame(data []byte)
	Opened(connectionID string)
	Close()
}

type Client struct {
	ws      wsClient
	url     string
	log     *logrus.Entry
	handler Handler

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

// URL is the endpoint of a station: the central system URL followed by the
// station name.
func URL(baseURL string, station catalog.Station) string {
	return strings.TrimRight(baseURL, "/") + "/" + station.Name
}

func New(baseURL string, station catalog.Station, handler Handler, log *logrus.Entry) *Client {
	return newClient(ws.NewClient(), baseURL, station, handler, log)
}

func newClient(client wsClient, baseURL string, station catalog.Station, handler Handler, log *logrus.Entry) *Client {
	c := &Client{
		ws:      client,
		url:     URL(baseURL, station),
		log:     log,
		handler: handler,
	}
	client.SetRequestedSubProtocol(types.V16Subprotocol)
	if station.User != "" {
		client.SetBasicAuth(station.User, station.Pass)
	}
	client.SetMessageHandler(func(data []byte) error {
		handler.HandleFrame(data)
		return nil
	})
	client.SetDisconnectedHandler(func(err error) {
		c.setConnected(false)
		c.log.Warnf("disconnected: %v", err)
		handler.Close()
	})
	client.SetReconnectedHandler(func() {
		c.setConnected(true)
		handler.Opened(uuid.NewString())
	})
	return c
}

// Start dials the central system and begins delivering frames to the handler.
func (c *Client) Start() error {
	c.log.WithField("url", c.url).Info("connecting")
	if err := c.ws.Start(c.url); err != nil {
		return fmt.Errorf("connect %v: %w", c.url, err)
	}
	c.mu.Lock()
	c.connected = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.drainErrors(done)
	c.handler.Opened(uuid.NewString())
	return nil
}

func (c *Client) drainErrors(done chan struct{}) {
	errs := c.ws.Errors()
	for {
		select {
		case <-done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.log.Errorf("websocket error: %v", err)
		}
	}
}

func (c *Client) Write(data []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.ws.Write(data)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// Stop closes the websocket and stops the dispatcher timers.
func (c *Client) Stop() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if wasConnected {
		c.ws.Stop()
	}
	c.handler.Close()
}
