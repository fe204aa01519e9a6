// Package api implements the HTTP provisioning API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/logging"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/tls"
)

const redacted = "<redacted>"

// SlotStore defines the storage operations used by the API.
type SlotStore interface {
	Put(ctx context.Context, rec credential.Record) error
	Get(ctx context.Context, slot string) (credential.Record, error)
	Remove(ctx context.Context, slot string) error
	List(ctx context.Context) ([]string, error)
}

// Server implements the provisioning API.
type Server struct {
	store          SlotStore
	allowKeyReveal bool
	onChange       func(ctx context.Context, slot string)
}

// NewServer creates a new Server.
func NewServer(store SlotStore, allowKeyReveal bool) *Server {
	return &Server{
		store:          store,
		allowKeyReveal: allowKeyReveal,
	}
}

// OnChange registers a function which is called after a slot has been
// provisioned or deprovisioned.
func (s *Server) OnChange(f func(ctx context.Context, slot string)) {
	s.onChange = f
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logging.HTTPCtxIDMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/slots", s.listSlots).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}", s.getSlot).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}", s.putSlot).Methods(http.MethodPut)
	api.HandleFunc("/slots/{slot}", s.deleteSlot).Methods(http.MethodDelete)

	return r
}

// Setup starts the API server.
func Setup(c config.Config, s *Server) error {
	if c.API.Bind == "" {
		return nil
	}

	server := http.Server{
		Handler:           s.Handler(),
		Addr:              c.API.Bind,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"bind":     c.API.Bind,
		"ca_cert":  c.API.CACert,
		"tls_cert": c.API.TLSCert,
		"tls_key":  c.API.TLSKey,
	}).Info("api: starting provisioning api server")

	if c.API.TLSCert != "" && c.API.TLSKey != "" {
		tlsConfig, err := tls.GetServerConfig(c.API.CACert, c.API.TLSCert, c.API.TLSKey, c.API.CACert != "")
		if err != nil {
			return errors.Wrap(err, "get tls config error")
		}
		server.TLSConfig = tlsConfig

		go func() {
			err := server.ListenAndServeTLS("", "")
			log.WithError(err).Fatal("api: provisioning api server error")
		}()
		return nil
	}

	go func() {
		err := server.ListenAndServe()
		log.WithError(err).Fatal("api: provisioning api server error")
	}()

	return nil
}

type slotListResponse struct {
	Slots []string `json:"slots"`
}

type slotResponse struct {
	Slot           string         `json:"slot"`
	DevEUI         credential.EUI `json:"dev_eui"`
	JoinEUI        credential.EUI `json:"join_eui"`
	AppKey         string         `json:"app_key"`
	KeyFingerprint string         `json:"key_fingerprint"`
	ProvisionedAt  time.Time      `json:"provisioned_at"`
}

// putSlotRequest holds the credentials in hex. Unless set otherwise, the
// EUIs are expected in network order as displayed by the network-server
// console, the key MSB first.
type putSlotRequest struct {
	DevEUI   string `json:"dev_eui"`
	JoinEUI  string `json:"join_eui"`
	AppKey   string `json:"app_key"`
	EUIOrder string `json:"eui_order"`
	KeyOrder string `json:"key_order"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) listSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, slotListResponse{Slots: slots})
}

func (s *Server) getSlot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), mux.Vars(r)["slot"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := slotResponse{
		Slot:           rec.SlotLabel,
		DevEUI:         rec.DevEUI,
		JoinEUI:        rec.JoinEUI,
		AppKey:         redacted,
		KeyFingerprint: rec.Fingerprint(),
		ProvisionedAt:  rec.ProvisionedAt,
	}

	if r.URL.Query().Get("reveal") == "true" {
		if !s.allowKeyReveal {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "key reveal is disabled"})
			return
		}
		resp.AppKey = rec.AppKey.String()

		log.WithFields(log.Fields{
			"slot":   rec.SlotLabel,
			"ctx_id": r.Context().Value(logging.ContextIDKey),
		}).Warning("api: app_key revealed")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) putSlot(w http.ResponseWriter, r *http.Request) {
	slot := mux.Vars(r)["slot"]

	var req putSlotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errors.Wrap(err, "decode request error").Error()})
		return
	}

	euiOrder, err := codec.ParseOrder(req.EUIOrder, codec.MSBFirst)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	keyOrder, err := codec.ParseOrder(req.KeyOrder, codec.MSBFirst)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	raw, err := credential.ParseRawRecord(slot, req.DevEUI, req.JoinEUI, req.AppKey, euiOrder, keyOrder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := credential.Validate(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.Put(r.Context(), rec); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.onChange != nil {
		s.onChange(r.Context(), slot)
	}

	writeJSON(w, http.StatusOK, slotResponse{
		Slot:           rec.SlotLabel,
		DevEUI:         rec.DevEUI,
		JoinEUI:        rec.JoinEUI,
		AppKey:         redacted,
		KeyFingerprint: rec.Fingerprint(),
		ProvisionedAt:  rec.ProvisionedAt,
	})
}

func (s *Server) deleteSlot(w http.ResponseWriter, r *http.Request) {
	slot := mux.Vars(r)["slot"]

	if err := s.store.Remove(r.Context(), slot); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.onChange != nil {
		s.onChange(r.Context(), slot)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errToCode(err)
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithFields(logging.Fields(r.Context())).Error("api: request error")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("api: encode response error")
	}
}
