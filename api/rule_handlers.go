package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"argus/core"
	"argus/storage"

	"github.com/gorilla/mux"
)

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id query parameter is required", nil, a.logger)
		return
	}

	limit, offset := 100, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,1000]", err, a.logger)
			return
		}
		limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", err, a.logger)
			return
		}
		offset = parsed
	}

	rules, err := a.ruleStorage.GetRules(r.Context(), orgID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve rules", err, a.logger)
		return
	}
	if rules == nil {
		rules = []core.ThreatRule{}
	}

	count, err := a.ruleStorage.GetRuleCount(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count rules", err, a.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"total": count,
	})
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rule, err := a.ruleStorage.GetRule(r.Context(), id)
	if errors.Is(err, storage.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve rule", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule core.ThreatRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", err, a.logger)
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err, a.logger)
		return
	}

	if err := a.ruleStorage.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create rule", err, a.logger)
		return
	}

	a.evaluator.ForceReload(r.Context(), rule.OrgID)
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var rule core.ThreatRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", err, a.logger)
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err, a.logger)
		return
	}

	err := a.ruleStorage.UpdateRule(r.Context(), id, &rule)
	if errors.Is(err, storage.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update rule", err, a.logger)
		return
	}

	a.evaluator.ForceReload(r.Context(), rule.OrgID)
	rule.ID = id
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Fetch first so the right org's rule cache can be invalidated.
	rule, err := a.ruleStorage.GetRule(r.Context(), id)
	if errors.Is(err, storage.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Rule not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve rule", err, a.logger)
		return
	}

	if err := a.ruleStorage.DeleteRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete rule", err, a.logger)
		return
	}

	a.evaluator.ForceReload(r.Context(), rule.OrgID)
	w.WriteHeader(http.StatusNoContent)
}
