// Package dispatcher wires the onion router, swarm store, and directory
// service to HTTP handlers, translating between wire requests and the
// domain packages and mapping common.Error kinds onto HTTP status codes.
package dispatcher

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ghosttalk/swarmnode/pkg/common"
	"github.com/ghosttalk/swarmnode/pkg/directory"
	"github.com/ghosttalk/swarmnode/pkg/metrics"
	"github.com/ghosttalk/swarmnode/pkg/middleware"
	"github.com/ghosttalk/swarmnode/pkg/onion"
	"github.com/ghosttalk/swarmnode/pkg/pow"
	"github.com/ghosttalk/swarmnode/pkg/swarm"
)

// PacketForwarder forwards a rewrapped onion packet to the next hop.
type PacketForwarder interface {
	ForwardPacket(nodeAddress string, packet []byte) error
}

// Dispatcher binds the domain services to HTTP handlers.
type Dispatcher struct {
	Config      *common.Config
	Router      *onion.Router
	Swarm       *swarm.Store
	Directory   *directory.Service
	Forwarder   PacketForwarder // nil disables forwarding (single-node / test mode)
	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Routes builds the mux.Router exposing the node's HTTP API.
func (d *Dispatcher) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/onion", d.handleOnionPacket).Methods(http.MethodPost)
	api.HandleFunc("/swarm/messages/{sessionID}", d.handleRetrieveMessages).Methods(http.MethodGet)
	api.HandleFunc("/swarm/messages", d.handleStoreMessage).Methods(http.MethodPost)
	api.HandleFunc("/swarm/messages/{sessionID}/{messageID}", d.handleDeleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/swarm/replicate", d.handleReplicate).Methods(http.MethodPost)
	api.HandleFunc("/nodes/bootstrap", d.handleGetBootstrap).Methods(http.MethodGet)
	api.HandleFunc("/nodes/swarm/{sessionID}", d.handleGetSwarmNodes).Methods(http.MethodGet)
	api.HandleFunc("/nodes/register", d.handleRegisterNode).Methods(http.MethodPost)

	r.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)

	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	return r
}

// writeError maps a domain error onto an HTTP response using Kind.Status().
func (d *Dispatcher) writeError(w http.ResponseWriter, op string, err error) {
	kind := common.KindOf(err)
	if d.Logger != nil {
		d.Logger.Warn(op, zap.String("kind", kind.String()), zap.Error(err))
	}
	if kind == common.KindInsufficientReplicas || kind == common.KindUpstreamUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, kind.String(), kind.Status())
}

func (d *Dispatcher) handleOnionPacket(w http.ResponseWriter, r *http.Request) {
	packet, err := io.ReadAll(r.Body)
	if err != nil {
		d.writeError(w, "dispatcher.handleOnionPacket", common.NewError(common.KindInvalidPacket, "read body", err))
		return
	}
	defer r.Body.Close()

	decision, err := d.Router.ProcessPacket(packet)
	if err != nil {
		if d.Metrics != nil {
			d.Metrics.PacketsRejected.WithLabelValues(common.KindOf(err).String()).Inc()
		}
		// The client only ever sees invalid_packet; the specific kind stays
		// in the metrics label and the wrapped error logged by writeError.
		d.writeError(w, "dispatcher.handleOnionPacket",
			common.NewError(common.KindInvalidPacket, "process packet", err))
		return
	}

	if decision.Delay > 0 {
		time.Sleep(decision.Delay)
	}

	switch decision.Action {
	case onion.ActionForward:
		if d.Metrics != nil {
			d.Metrics.PacketsProcessed.WithLabelValues("forward").Inc()
			d.Metrics.PacketsForwarded.Inc()
		}
		if d.Forwarder == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if err := d.Forwarder.ForwardPacket(decision.NextAddress, decision.NextPacket); err != nil {
			d.writeError(w, "dispatcher.handleOnionPacket",
				common.NewError(common.KindUpstreamUnavailable, "forward", err))
			return
		}
		w.WriteHeader(http.StatusAccepted)

	case onion.ActionDeliver:
		if d.Metrics != nil {
			d.Metrics.PacketsProcessed.WithLabelValues("deliver").Inc()
			d.Metrics.PacketsDelivered.Inc()
		}
		var msg common.Message
		// The decrypted payload is zero-padded to its fixed size.
		if err := json.Unmarshal(bytes.TrimRight(decision.Payload, "\x00"), &msg); err != nil {
			d.writeError(w, "dispatcher.handleOnionPacket",
				common.NewError(common.KindInvalidPacket, "unmarshal payload", err))
			return
		}
		if err := d.Swarm.StoreMessage(&msg); err != nil {
			d.writeError(w, "dispatcher.handleOnionPacket", err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (d *Dispatcher) handleStoreMessage(w http.ResponseWriter, r *http.Request) {
	var msg common.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		d.writeError(w, "dispatcher.handleStoreMessage", common.NewError(common.KindInvalidPacket, "decode", err))
		return
	}
	defer r.Body.Close()

	if d.Config.PoW.Enabled {
		challenge := pow.Challenge{
			RecipientID: msg.DestinationID,
			MessageID:   msg.ID,
			Timestamp:   msg.Timestamp.Unix(),
		}
		if err := pow.Verify(challenge, msg.PoWNonce, d.Config.PoW.Difficulty); err != nil {
			if d.Metrics != nil {
				d.Metrics.PoWRejected.Inc()
			}
			d.writeError(w, "dispatcher.handleStoreMessage", err)
			return
		}
	}

	if err := d.Swarm.StoreMessage(&msg); err != nil {
		d.writeError(w, "dispatcher.handleStoreMessage", err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.MessagesStored.Inc()
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "stored"})
}

// handleReplicate accepts a replica write pushed by a peer node holding the
// same key's successor set. The payload is either a serialized Message (a
// store) or a {"op":"delete", ...} envelope.
func (d *Dispatcher) handleReplicate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		d.writeError(w, "dispatcher.handleReplicate", common.NewError(common.KindInvalidPacket, "read body", err))
		return
	}
	defer r.Body.Close()

	var envelope struct {
		Op        string `json:"op"`
		SessionID string `json:"session_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Op == "delete" {
		if err := d.Swarm.DeleteMessage(envelope.SessionID, envelope.MessageID); err != nil {
			d.writeError(w, "dispatcher.handleReplicate", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	var msg common.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		d.writeError(w, "dispatcher.handleReplicate", common.NewError(common.KindInvalidPacket, "unmarshal", err))
		return
	}
	if err := d.Swarm.ReplicateStore(&msg); err != nil {
		d.writeError(w, "dispatcher.handleReplicate", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (d *Dispatcher) handleRetrieveMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	messages, err := d.Swarm.RetrieveMessages(sessionID)
	if err != nil {
		d.writeError(w, "dispatcher.handleRetrieveMessages", err)
		return
	}
	if d.Metrics != nil {
		d.Metrics.MessagesDelivered.Add(float64(len(messages)))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func (d *Dispatcher) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := d.Swarm.DeleteMessage(vars["sessionID"], vars["messageID"]); err != nil {
		d.writeError(w, "dispatcher.handleDeleteMessage", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) handleGetBootstrap(w http.ResponseWriter, r *http.Request) {
	bootstrap, err := d.Directory.GetBootstrapSet()
	if err != nil {
		d.writeError(w, "dispatcher.handleGetBootstrap", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bootstrap)
}

func (d *Dispatcher) handleGetSwarmNodes(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	nodes, err := d.Directory.GetSwarmNodes(sessionID, d.Config.Swarm.ReplicationFactor)
	if err != nil {
		d.writeError(w, "dispatcher.handleGetSwarmNodes", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id": sessionID,
		"nodes":      nodes,
	})
}

func (d *Dispatcher) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var node common.NodeInfo
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		d.writeError(w, "dispatcher.handleRegisterNode", common.NewError(common.KindInvalidPacket, "decode", err))
		return
	}
	defer r.Body.Close()

	if err := d.Directory.RegisterNode(&node); err != nil {
		d.writeError(w, "dispatcher.handleRegisterNode", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
}

var startTime = time.Now()

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(startTime).Seconds(),
	})
}
