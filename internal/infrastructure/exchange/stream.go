package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	mainnetStreamURL = "wss://fstream.binance.com/stream"
	testnetStreamURL = "wss://stream.binancefuture.com/stream"

	reconnectDelay = 5 * time.Second
)

// PriceStream maintains a mark-price websocket subscription for the trading
// universe and caches the latest price per symbol. The REST price endpoint
// stays as the fallback when a symbol has not ticked yet.
type PriceStream struct {
	url    string
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	prices    map[string]float64
	callbacks []func(symbol string, price float64)
	done      chan struct{}
}

func NewPriceStream(testnet bool, logger *zap.Logger) *PriceStream {
	url := mainnetStreamURL
	if testnet {
		url = testnetStreamURL
	}
	return &PriceStream{
		url:    url,
		logger: logger,
		prices: make(map[string]float64),
		done:   make(chan struct{}),
	}
}

// OnPriceUpdate registers a callback invoked on every mark-price tick.
func (p *PriceStream) OnPriceUpdate(callback func(symbol string, price float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// Connect subscribes to the mark-price stream for symbols and keeps the
// connection alive until Stop, reconnecting on read errors.
func (p *PriceStream) Connect(symbols []string) error {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@markPrice@1s"
	}
	url := p.url + "?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(url)
	return nil
}

// LatestPrice returns the cached mark price, false when the symbol has not
// ticked since connect.
func (p *PriceStream) LatestPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok
}

func (p *PriceStream) Stop() {
	close(p.done)
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()
}

type markPriceEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		MarkPrice string `json:"p"`
	} `json:"data"`
}

func (p *PriceStream) readLoop(url string) {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			p.logger.Warn("price stream read failed, reconnecting",
				zap.Error(err), zap.Duration("delay", reconnectDelay))
			conn.Close()
			if !p.reconnect(url) {
				return
			}
			continue
		}

		var event markPriceEvent
		if err := json.Unmarshal(message, &event); err != nil {
			p.logger.Debug("unparseable stream message", zap.Error(err))
			continue
		}
		if event.Data.EventType != "markPriceUpdate" {
			continue
		}

		price, err := strconv.ParseFloat(event.Data.MarkPrice, 64)
		if err != nil || price <= 0 {
			continue
		}

		p.mu.Lock()
		p.prices[event.Data.Symbol] = price
		callbacks := p.callbacks
		p.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Data.Symbol, price)
		}
	}
}

// reconnect retries the dial until it succeeds or the stream is stopped.
func (p *PriceStream) reconnect(url string) bool {
	for {
		select {
		case <-p.done:
			return false
		case <-time.After(reconnectDelay):
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			p.logger.Warn("price stream reconnect failed", zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.logger.Info("price stream reconnected")
		return true
	}
}
