package server

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/pion/stun"
)

// handleSTUN 应答 STUN Binding 请求
//
// 返回 handled=false 表示数据报不是可解析的 Binding 请求，交由中继协议处理。
func (n *Node) handleSTUN(conn *net.UDPConn, data []byte, from netip.AddrPort) (bool, error) {
	if !stun.IsMessage(data) {
		return false, nil
	}

	req := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := req.Decode(); err != nil {
		return false, nil
	}
	if req.Type != stun.BindingRequest {
		return false, nil
	}
	n.counters.stunRequests.Add(1)

	resp, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{
			IP:   from.Addr().AsSlice(),
			Port: int(from.Port()),
		},
		stun.Fingerprint,
	)
	if err != nil {
		return true, fmt.Errorf("build stun response: %w", err)
	}
	if _, err := conn.WriteToUDPAddrPort(resp.Raw, from); err != nil {
		return true, fmt.Errorf("%w: send stun response to %s: %v", ErrIO, from, err)
	}
	return true, nil
}
