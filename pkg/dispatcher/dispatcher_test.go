package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/directory"
	"github.com/ghosttalk/swarmnode/pkg/onion"
	"github.com/ghosttalk/swarmnode/pkg/pow"
	"github.com/ghosttalk/swarmnode/pkg/swarm"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	_, priv, err := common.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}

	cfg := &common.Config{}
	cfg.Swarm.ReplicationFactor = 1
	cfg.Swarm.TTLDays = 7

	d := &Dispatcher{
		Config:    cfg,
		Router:    onion.NewRouter(priv),
		Swarm:     swarm.NewStore(swarm.NewMemoryStorage(), nil, nil, 1, 7),
		Directory: directory.NewService(priv),
	}
	t.Cleanup(func() { d.Router.Close() })
	return d
}

func TestHandleStoreAndRetrieveMessage(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Routes()

	msg := common.Message{ID: "msg1", DestinationID: "session1", Timestamp: time.Now()}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/v1/swarm/messages", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("store: status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/swarm/messages/session1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("retrieve: status = %d, want 200", rr.Code)
	}

	var got []common.Message
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(got) != 1 || got[0].ID != "msg1" {
		t.Errorf("got %+v, want one message with ID msg1", got)
	}
}

func TestHandleStoreMessage_RejectsInsufficientPoW(t *testing.T) {
	d := newTestDispatcher(t)
	d.Config.PoW.Enabled = true
	d.Config.PoW.Difficulty = 16
	router := d.Routes()

	msg := common.Message{ID: "msg1", DestinationID: "session1", Timestamp: time.Now(), PoWNonce: 0}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/v1/swarm/messages", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid proof of work", rr.Code)
	}
}

func TestHandleStoreMessage_AcceptsValidPoW(t *testing.T) {
	d := newTestDispatcher(t)
	d.Config.PoW.Enabled = true
	d.Config.PoW.Difficulty = 8
	router := d.Routes()

	ts := time.Now()
	challenge := pow.Challenge{RecipientID: "session1", MessageID: "msg1", Timestamp: ts.Unix()}
	nonce := pow.Solve(challenge, 8)

	msg := common.Message{ID: "msg1", DestinationID: "session1", Timestamp: ts, PoWNonce: nonce}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/v1/swarm/messages", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleRegisterNodeAndBootstrap(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Routes()

	node := common.NodeInfo{ID: "node-1", Address: "10.0.0.1", Port: 9443}
	body, _ := json.Marshal(node)

	req := httptest.NewRequest(http.MethodPost, "/v1/nodes/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, want 201", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/nodes/bootstrap", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: status = %d, want 200", rr.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandleOnionPacket_InvalidPacketReturnsBadRequest(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Routes()

	req := httptest.NewRequest(http.MethodPost, "/v1/onion", bytes.NewReader([]byte("too short")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}
