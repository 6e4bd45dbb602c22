package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"automation-engine/internal/auth"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/credentials"
	"automation-engine/internal/units"
)

const hookSecretHeader = "X-Hook-Secret"

type bindingRequest struct {
	ProviderID string                 `json:"provider_id"`
	TargetID   string                 `json:"target_id"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

type unitRequest struct {
	Name         string         `json:"name"`
	Trigger      bindingRequest `json:"trigger"`
	Reaction     bindingRequest `json:"reaction"`
	Enabled      *bool          `json:"enabled,omitempty"`
	SharedSecret string         `json:"shared_secret,omitempty"`
}

type credentialRequest struct {
	ProviderID    string `json:"provider_id"`
	AccessSecret  string `json:"access_secret"`
	RefreshSecret string `json:"refresh_secret,omitempty"`
	Expiry        string `json:"expiry,omitempty"`
	Scope         string `json:"scope,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnitEvent(w http.ResponseWriter, r *http.Request) {
	unitID := mux.Vars(r)["unitID"]
	secret := r.Header.Get(hookSecretHeader)

	payload := decodePayload(r)
	if err := s.gateway.HandleUnitEvent(r.Context(), unitID, secret, payload); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["providerID"]
	secret := r.Header.Get(hookSecretHeader)

	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	payload := decodePayload(r)
	fired, err := s.gateway.HandleProviderEvent(r.Context(), providerID, secret, query, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fired": fired})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserID(r.Context())

	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationError("invalid request body"))
		return
	}

	unit := req.toUnit(ownerID)
	if err := s.validateBindings(unit); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.CreateUnit(r.Context(), unit); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserID(r.Context())

	list, err := s.store.ListUnitsByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*units.Unit{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ownedUnit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ownedUnit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationError("invalid request body"))
		return
	}

	updated := req.toUnit(unit.OwnerID)
	updated.ID = unit.ID
	if err := s.validateBindings(updated); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.UpdateUnit(r.Context(), updated); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ownedUnit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.DeleteUnit(r.Context(), unit.ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	unit, err := s.ownedUnit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := decodePayload(r)
	if err := s.engine.Fire(r.Context(), unit.ID, payload); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "fired"})
}

func (s *Server) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserID(r.Context())

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationError("invalid request body"))
		return
	}
	if req.ProviderID == "" || req.AccessSecret == "" {
		s.writeError(w, errors.ValidationError("provider_id and access_secret are required"))
		return
	}
	provider, err := s.registry.Resolve(req.ProviderID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cred := &credentials.Credential{
		OwnerID:       ownerID,
		ProviderID:    req.ProviderID,
		AccessSecret:  req.AccessSecret,
		RefreshSecret: req.RefreshSecret,
		Scope:         req.Scope,
	}
	if req.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339, req.Expiry)
		if err != nil {
			s.writeError(w, errors.ValidationError("expiry must be RFC3339"))
			return
		}
		cred.Expiry = expiry
	}

	if v, ok := provider.(credentials.Validator); ok {
		if err := v.ValidateCredential(r.Context(), cred); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if err := s.store.SaveCredential(r.Context(), cred); err != nil {
		s.writeError(w, err)
		return
	}
	if s.creds != nil {
		s.creds.Invalidate(ownerID, req.ProviderID)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.UserID(r.Context())
	providerID := mux.Vars(r)["providerID"]

	if err := s.store.DeleteCredential(r.Context(), ownerID, providerID); err != nil {
		s.writeError(w, err)
		return
	}
	if s.creds != nil {
		s.creds.Invalidate(ownerID, providerID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedUnit loads the unit from the path and enforces ownership. A foreign
// unit reads as not found rather than forbidden so ids are not probeable.
func (s *Server) ownedUnit(r *http.Request) (*units.Unit, error) {
	ownerID, _ := auth.UserID(r.Context())
	id := mux.Vars(r)["id"]

	unit, err := s.store.GetUnit(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if unit.OwnerID != ownerID {
		return nil, errors.NotFoundError("unit")
	}
	return unit, nil
}

func (s *Server) validateBindings(unit *units.Unit) error {
	if unit.Name == "" {
		return errors.ValidationError("name is required")
	}

	triggerProvider, err := s.registry.Resolve(unit.Trigger.ProviderID)
	if err != nil {
		return err
	}
	if result := triggerProvider.ValidateTriggerConfig(unit.Trigger.TargetID, unit.Trigger.Params); !result.Valid {
		return errors.ValidationError("invalid trigger config").WithContext("details", result.Errors)
	}

	reactionProvider, err := s.registry.Resolve(unit.Reaction.ProviderID)
	if err != nil {
		return err
	}
	if result := reactionProvider.ValidateReactionConfig(unit.Reaction.TargetID, unit.Reaction.Params); !result.Valid {
		return errors.ValidationError("invalid reaction config").WithContext("details", result.Errors)
	}
	return nil
}

func (r *unitRequest) toUnit(ownerID string) *units.Unit {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &units.Unit{
		OwnerID: ownerID,
		Name:    r.Name,
		Trigger: units.Binding{
			ProviderID: r.Trigger.ProviderID,
			TargetID:   r.Trigger.TargetID,
			Params:     r.Trigger.Params,
		},
		Reaction: units.Binding{
			ProviderID: r.Reaction.ProviderID,
			TargetID:   r.Reaction.TargetID,
			Params:     r.Reaction.Params,
		},
		Enabled:      enabled,
		SharedSecret: r.SharedSecret,
	}
}

func decodePayload(r *http.Request) map[string]interface{} {
	var payload map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	return payload
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	errType := errors.ErrTypeInternal

	if appErr, ok := err.(*errors.AppError); ok {
		errType = appErr.Type
		message = appErr.Message
		switch appErr.Type {
		case errors.ErrTypeValidation, errors.ErrTypeUnknownProvider:
			status = http.StatusBadRequest
		case errors.ErrTypeAuthentication:
			status = http.StatusUnauthorized
		case errors.ErrTypeNotFound:
			status = http.StatusNotFound
		case errors.ErrTypeCredentialExpired:
			status = http.StatusConflict
		case errors.ErrTypeConnection:
			status = http.StatusBadGateway
		}
	}

	if status >= 500 {
		s.logger.Error("Request failed", err)
	}
	writeJSON(w, status, map[string]string{"error": message, "type": string(errType)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.GetGlobalLogger().Error("Failed to encode response", err)
	}
}
