package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const (
	metaReply = `{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]}`
	bookReply = `{"coin":"BTC","time":1716863719031,"levels":[` +
		`[{"px":"59990","sz":"2","n":3},{"px":"60000","sz":"1.2","n":1}],` +
		`[{"px":"60010","sz":"0.5","n":2}]]}`
)

type capturedAction struct {
	Type     string
	Order    orderAction
	Cancel   cancelAction
	Nonce    int64
	SignedBy string
}

// fakeExchange answers info queries and signed actions the way the venue
// does. Both the REST and the WebSocket test servers delegate to it.
type fakeExchange struct {
	mu      sync.Mutex
	infos   []infoRequest
	actions []capturedAction
	info    map[string]string
	action  map[string]string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		info: map[string]string{
			"meta":       metaReply,
			"l2Book":     bookReply,
			"openOrders": `[]`,
			"allMids":    `{"BTC":"60005.0","ETH":"3000.5"}`,
		},
		action: map[string]string{},
	}
}

func (f *fakeExchange) setInfo(kind, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info[kind] = reply
}

func (f *fakeExchange) setAction(kind, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.action[kind] = reply
}

func (f *fakeExchange) lastAction() capturedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[len(f.actions)-1]
}

func (f *fakeExchange) actionsOf(kind string) []capturedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capturedAction
	for _, a := range f.actions {
		if a.Type == kind {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeExchange) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

func (f *fakeExchange) infoTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.infos))
	for _, r := range f.infos {
		kinds = append(kinds, r.Type)
	}
	return kinds
}

func (f *fakeExchange) handleInfo(body []byte) (string, string) {
	var req infoRequest
	_ = json.Unmarshal(body, &req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = append(f.infos, req)
	return req.Type, f.info[req.Type]
}

func (f *fakeExchange) handleExchange(body []byte) string {
	var req struct {
		Action    json.RawMessage `json:"action"`
		Nonce     int64           `json:"nonce"`
		Signature Signature       `json:"signature"`
	}
	_ = json.Unmarshal(body, &req)
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(req.Action, &head)

	captured := capturedAction{Type: head.Type, Nonce: req.Nonce}
	var action any
	switch head.Type {
	case "order":
		_ = json.Unmarshal(req.Action, &captured.Order)
		action = captured.Order
	case "cancel":
		_ = json.Unmarshal(req.Action, &captured.Cancel)
		action = captured.Cancel
	}
	if action != nil {
		captured.SignedBy, _ = signedBy(action, req.Nonce, req.Signature, true)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, captured)
	if reply, ok := f.action[head.Type]; ok {
		return reply
	}
	switch head.Type {
	case "order":
		return `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":77738308}}]}}}`
	case "cancel":
		statuses := make([]string, len(captured.Cancel.Cancels))
		for i := range statuses {
			statuses[i] = `"success"`
		}
		return fmt.Sprintf(`{"status":"ok","response":{"type":"cancel","data":{"statuses":[%s]}}}`,
			strings.Join(statuses, ","))
	}
	return `{"status":"err","response":"Unknown action"}`
}
