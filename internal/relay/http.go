package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/logging"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ConnectResponse reports the channel state after a connect or disconnect.
type ConnectResponse struct {
	Address string        `json:"address"`
	Channel string        `json:"channel"`
	State   channel.State `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Message: message, Status: status})
}

func (s *Server) getDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	record, ok := s.registry.Get(address)
	if !ok {
		writeError(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// addDevice probes a single address and registers it when it answers.
func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	if s.adder == nil {
		writeError(w, "adding devices is not enabled", http.StatusNotImplemented)
		return
	}
	address := mux.Vars(r)["address"]

	if err := s.adder.Add(r.Context(), address); err != nil {
		status := http.StatusBadGateway
		if deviceapi.IsTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, err.Error(), status)
		return
	}

	record, _ := s.registry.Get(address)
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) getChannels(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	names := s.channels.Channels(address)
	if len(names) == 0 {
		fetched, err := s.channels.FetchChannels(r.Context(), address)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		if fetched == nil {
			fetched = []string{}
		}
		names = fetched
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) connectChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address, name := vars["address"], vars["name"]

	if err := s.channels.Connect(r.Context(), address, name, s.config.ConnectTimeout); err != nil {
		writeError(w, err.Error(), connectStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{
		Address: address,
		Channel: name,
		State:   s.channels.State(address, name),
	})
}

// connectStatus maps a Connect failure to an HTTP status.
func connectStatus(err error) int {
	switch {
	case errors.Is(err, channel.ErrAlreadyConnecting), errors.Is(err, channel.ErrDisconnected):
		return http.StatusConflict
	case errors.Is(err, channel.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, channel.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) disconnectChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address, name := vars["address"], vars["name"]

	s.channels.Disconnect(address, name)
	writeJSON(w, http.StatusOK, ConnectResponse{
		Address: address,
		Channel: name,
		State:   s.channels.State(address, name),
	})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, s.channels.BufferedEvents(vars["address"], vars["name"]))
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.channels.List())
}
