package evm

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// failoverClient wraps one ethclient per configured RPC URL and rotates to the
// next URL when the current one stops answering.
type failoverClient struct {
	urls    []string
	clients []*ethclient.Client
	mu      sync.Mutex
	current int
}

func newFailoverClient(urls []string) (*failoverClient, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	clients := make([]*ethclient.Client, len(urls))
	connected := 0
	for i, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().
				Str("url", url).
				Err(err).
				Msg("Failed to connect to RPC node, will retry on use")
			continue
		}
		clients[i] = client
		connected++
	}

	if connected == 0 {
		return nil, errors.New("failed to connect to any RPC node")
	}

	return &failoverClient{
		urls:    urls,
		clients: clients,
	}, nil
}

// get returns the currently selected client, dialing lazily where an earlier
// Dial failed. Rotation happens in fail().
func (c *failoverClient) get() (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.clients); i++ {
		idx := (c.current + i) % len(c.clients)
		if c.clients[idx] != nil {
			c.current = idx
			return c.clients[idx], nil
		}

		client, err := ethclient.Dial(c.urls[idx])
		if err != nil {
			log.Warn().
				Str("url", c.urls[idx]).
				Err(err).
				Msg("RPC reconnect failed")
			continue
		}
		c.clients[idx] = client
		c.current = idx
		return client, nil
	}

	return nil, errors.New("all RPC clients are unavailable")
}

// fail marks the current client bad and rotates to the next URL.
func (c *failoverClient) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clients[c.current] != nil {
		c.clients[c.current].Close()
		c.clients[c.current] = nil
	}
	c.current = (c.current + 1) % len(c.clients)
}

func (c *failoverClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.clients[i] = nil
		}
	}
}

// do runs fn against the selected client and rotates on failure so the next
// call tries another endpoint. It does not retry fn itself; callers retry on
// their own cycle cadence.
func (c *failoverClient) do(ctx context.Context, fn func(*ethclient.Client) error) error {
	client, err := c.get()
	if err != nil {
		return err
	}

	if err := fn(client); err != nil {
		if ctx.Err() == nil {
			c.fail()
		}
		return err
	}

	return nil
}
