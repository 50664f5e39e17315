// Package entropy provides the random sources the simulation draws from.
// Per-tick generators are derived from the world seed so a restored world
// replays identically; true randomness from random.org is only used to pick
// a fresh world seed.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"time"
)

// Source is the random interface consumed by subsystems. *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Float64() float64
}

// Stream identifies an independent random stream within a tick.
type Stream uint64

const (
	StreamWorldGen Stream = iota + 1
	StreamPolitics
	StreamDiplomacy
	StreamEconomy
	StreamWarfare
	StreamOrchestrator
)

// ForTick returns a generator for one stream at one tick. The same
// (seed, stream, tick) triple always yields the same sequence.
func ForTick(seed int64, stream Stream, tick uint64) *mrand.Rand {
	// splitmix64 finalizer spreads adjacent ticks across the seed space.
	x := uint64(seed) ^ (uint64(stream) * 0x9E3779B97F4A7C15) ^ (tick * 0xBF58476D1CE4E5B9)
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return mrand.New(mrand.NewSource(int64(x)))
}

// Client fetches a seed from random.org.
type Client struct {
	apiKey string
	client *http.Client
}

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// NewSeed returns a fresh world seed. random.org is tried first when the
// client is enabled; crypto/rand is the fallback.
func NewSeed(c *Client) (int64, error) {
	if c.Enabled() {
		seed, err := c.fetchSeed()
		if err == nil {
			return seed, nil
		}
		slog.Debug("random.org seed failed, using crypto/rand", "error", err)
	}
	return cryptoSeed()
}

func (c *Client) fetchSeed() (int64, error) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      2,
			"min":    0,
			"max":    1<<31 - 1,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.client.Post("https://api.random.org/json-rpc/4/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("random.org: %s", result.Error.Message)
	}
	if len(result.Result.Random.Data) < 2 {
		return 0, fmt.Errorf("random.org: short response")
	}
	data := result.Result.Random.Data
	return data[0]<<31 | data[1], nil
}

func cryptoSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:]) >> 1), nil
}
