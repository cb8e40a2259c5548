package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/domain"
)

// PushSender delivers a payload to a single registered device token; the
// concrete APNs/GCM HTTP clients live outside this module's scope and are
// wired in at startup.
type PushSender interface {
	Send(ctx context.Context, deviceToken string, payload any) error
}

// WSHub fans payloads out to every websocket connection subscribed to an
// address, and tracks which tokens/devices belong to apn/gcm per address.
type WSHub struct {
	mu    sync.RWMutex
	conns map[common.Address]map[*websocket.Conn]struct{}

	apnTokens map[common.Address]map[string]struct{}
	gcmTokens map[common.Address]map[string]struct{}

	apn PushSender
	gcm PushSender

	log zerolog.Logger
}

func NewWSHub(apn, gcm PushSender, log zerolog.Logger) *WSHub {
	return &WSHub{
		conns:     make(map[common.Address]map[*websocket.Conn]struct{}),
		apnTokens: make(map[common.Address]map[string]struct{}),
		gcmTokens: make(map[common.Address]map[string]struct{}),
		apn:       apn,
		gcm:       gcm,
		log:       log,
	}
}

// Subscribe registers conn to receive notifications for addr.
func (h *WSHub) Subscribe(addr common.Address, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[addr]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[addr] = set
	}
	set[conn] = struct{}{}
}

// Unsubscribe removes conn from addr's recipient set.
func (h *WSHub) Unsubscribe(addr common.Address, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[addr]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, addr)
		}
	}
}

// Disconnect removes conn from every address it was subscribed to.
func (h *WSHub) Disconnect(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for addr, set := range h.conns {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, addr)
		}
	}
}

// RegisterAPN, RegisterGCM associate a push device token with addr.
func (h *WSHub) RegisterAPN(addr common.Address, deviceToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.apnTokens[addr]
	if !ok {
		set = make(map[string]struct{})
		h.apnTokens[addr] = set
	}
	set[deviceToken] = struct{}{}
}

func (h *WSHub) RegisterGCM(addr common.Address, deviceToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.gcmTokens[addr]
	if !ok {
		set = make(map[string]struct{})
		h.gcmTokens[addr] = set
	}
	set[deviceToken] = struct{}{}
}

// Deliver implements notify.Transport.
func (h *WSHub) Deliver(ctx context.Context, service domain.SubscriptionService, addr common.Address, payload any) {
	switch service {
	case domain.ServiceWS:
		h.deliverWS(addr, payload)
	case domain.ServiceAPN:
		h.deliverPush(ctx, h.apn, h.apnTokens, addr, payload)
	case domain.ServiceGCM:
		h.deliverPush(ctx, h.gcm, h.gcmTokens, addr, payload)
	}
}

func (h *WSHub) deliverWS(addr common.Address, payload any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[addr]))
	for c := range h.conns[addr] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal notification payload")
		return
	}
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
			h.log.Warn().Err(err).Str("addr", addr.Hex()).Msg("websocket write failed")
		}
	}
}

func (h *WSHub) deliverPush(ctx context.Context, sender PushSender, tokens map[common.Address]map[string]struct{}, addr common.Address, payload any) {
	if sender == nil {
		return
	}
	h.mu.RLock()
	devices := make([]string, 0, len(tokens[addr]))
	for t := range tokens[addr] {
		devices = append(devices, t)
	}
	h.mu.RUnlock()

	for _, dev := range devices {
		if err := sender.Send(ctx, dev, payload); err != nil {
			h.log.Warn().Err(err).Str("addr", addr.Hex()).Str("device", dev).Msg("push delivery failed")
		}
	}
}
