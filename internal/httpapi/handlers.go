package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/llmosd/llmosd/internal/personas"
	"github.com/llmosd/llmosd/internal/runtime"
	"github.com/llmosd/llmosd/pkg/protocol"
)

func (s *Server) handleConversationIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.rt.ListConversations()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ConversationIDsResponse{ConvIDs: ids})
}

func (s *Server) handleAgentPersonas(w http.ResponseWriter, r *http.Request) {
	names, err := s.rt.Personas().Agents()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PersonaNamesResponse{PersonaNames: names})
}

func (s *Server) handleHumanPersonas(w http.ResponseWriter, r *http.Request) {
	names, err := s.rt.Personas().Humans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PersonaNamesResponse{PersonaNames: names})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	name, err := s.rt.Create(r.Context(), req.AgentPersonaName, req.HumanPersonaName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.CreateAgentResponse{ConvName: name})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.rt.Delete(req.ConvName); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.DeleteAgentResponse{Success: true})
}

func (s *Server) handleListHumans(w http.ResponseWriter, r *http.Request) {
	// Some clients put the request in a GET body; fall back to the
	// query param for the rest.
	var req protocol.HumanIDsRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.ConvName == "" {
		req.ConvName = r.URL.Query().Get("conv_name")
	}

	ids, err := s.rt.Humans(r.Context(), req.ConvName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.HumanIDsResponse{HumanIDs: ids})
}

func (s *Server) handleAddHuman(w http.ResponseWriter, r *http.Request) {
	var req protocol.AddHumanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := s.rt.AddHuman(r.Context(), req.ConvName, req.HumanPersonaName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AddHumanResponse{NewHumanID: id})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.streamSend(w, r, false)
}

func (s *Server) handleSendFirst(w http.ResponseWriter, r *http.Request) {
	s.streamSend(w, r, true)
}

// streamSend runs the step loop and writes one JSON line per step,
// then the total-duration tail. Errors after the stream has started
// become a terminal error line; the status is already committed.
func (s *Server) streamSend(w http.ResponseWriter, r *http.Request, first bool) {
	var req protocol.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: "streaming unsupported"})
		return
	}

	enc := json.NewEncoder(w)
	started := false
	emit := func(v any) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			started = true
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	send := s.rt.Send
	if first {
		send = s.rt.SendFirst
	}
	total, err := send(r.Context(), req.ConvName, req.UserID, req.Message, func(ch protocol.StepChunk) error {
		return emit(ch)
	})
	if err != nil {
		if started {
			emit(protocol.ErrorResponse{Error: err.Error()})
		} else {
			s.writeError(w, err)
		}
		return
	}
	emit(protocol.StreamTail{TotalDuration: total})
}

func (s *Server) handleSendNoHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	resp, err := s.rt.SendNoHeartbeat(r.Context(), req.ConvName, req.UserID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps runtime errors onto HTTP statuses: unknown
// conversations are 404, unknown personas 400, the rest 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrUnknownConversation):
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: err.Error()})
	case errors.Is(err, personas.ErrUnknown):
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error()})
	}
}
