package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/toshi-network/eth-gateway/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsRequest struct {
	ID        int      `json:"id"`
	Method    string   `json:"method"`
	Addresses []string `json:"addresses"`
}

type wsResponse struct {
	ID     int      `json:"id"`
	Result []string `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// handleWebsocket serves the subscription socket: subscribe/unsubscribe
// add or remove the connection from the hub's per-address fan-out list;
// list_subscriptions echoes the connection's currently tracked set.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer s.hub.Disconnect(conn)

	subscribed := make(map[common.Address]struct{})

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Method {
		case "subscribe":
			for _, a := range req.Addresses {
				addr := common.HexToAddress(a)
				s.hub.Subscribe(addr, conn)
				subscribed[addr] = struct{}{}
				_ = s.store.AddSubscription(r.Context(), "", addr, domain.ServiceWS)
			}
			_ = conn.WriteJSON(wsResponse{ID: req.ID, Result: addressStrings(subscribed)})
		case "unsubscribe":
			for _, a := range req.Addresses {
				addr := common.HexToAddress(a)
				s.hub.Unsubscribe(addr, conn)
				delete(subscribed, addr)
			}
			_ = conn.WriteJSON(wsResponse{ID: req.ID, Result: addressStrings(subscribed)})
		case "list_subscriptions":
			_ = conn.WriteJSON(wsResponse{ID: req.ID, Result: addressStrings(subscribed)})
		default:
			_ = conn.WriteJSON(wsResponse{ID: req.ID, Error: "unknown method"})
		}
	}
}

func addressStrings(set map[common.Address]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a.Hex())
	}
	return out
}
