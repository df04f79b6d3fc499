package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/autoops/go-autoheal/logstore"
	"github.com/autoops/go-autoheal/oracle"
)

// maxDecisions bounds GET /decisions?n=
const maxDecisions = 1000

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// addOpsRoutes serves the healer state when this role runs the healer:
// GET /services lists the processes started by the healer and
// GET /decisions?n= returns the latest recorded decisions.
func (a *app) addOpsRoutes(r *mux.Router) {
	if a.services == nil {
		return
	}

	r.HandleFunc("/services", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, a.services.Handles())
	}).Methods(http.MethodGet)

	r.HandleFunc("/decisions", func(w http.ResponseWriter, req *http.Request) {
		n := 15
		if raw := req.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > maxDecisions {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be between 1 and 1000"})
				return
			}
			n = parsed
		}
		decisions, err := logstore.TailInto[oracle.Decision](a.decisionLogPath, n)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, decisions)
	}).Methods(http.MethodGet)
}
