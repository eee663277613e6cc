// Package api serves the admin HTTP surface: certificate submission,
// status queries and the metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/network"
	"github.com/eth2030/aggsettle/storage"
)

// Submitter accepts certificates for processing.
type Submitter interface {
	Submit(ctx context.Context, cert *types.Certificate) (types.CertificateID, error)
}

// Reader is the storage the API reads from.
type Reader interface {
	GetCertificateHeader(id types.CertificateID) (*types.CertificateHeader, error)
	GetCertificateHeaderByHeight(network types.NetworkID, height types.Height) (*types.CertificateHeader, error)
	GetLatestSettledCertificate(network types.NetworkID) (*types.SettledCertificate, error)
	GetEpochSize(epoch types.EpochNumber) (uint64, error)
	GetEpochCertificate(epoch types.EpochNumber, index types.CertificateIndex) (types.CertificateID, error)
}

// HealthReporter produces the body of GET /healthz. Unhealthy reports are
// served with 503.
type HealthReporter interface {
	HealthReport(ctx context.Context) (healthy bool, report any)
}

// Handler implements the API endpoints.
type Handler struct {
	submitter Submitter
	reader    Reader
	health    HealthReporter
	maxBody   int64
	log       *log.Logger
}

// NewHandler creates a handler. Request bodies above maxBody bytes are
// rejected.
func NewHandler(submitter Submitter, reader Reader, maxBody int64, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{submitter: submitter, reader: reader, maxBody: maxBody, log: logger.Module("api")}
}

type submitResponse struct {
	CertificateID types.CertificateID `json:"certificate_id"`
}

type epochResponse struct {
	Epoch        types.EpochNumber     `json:"epoch"`
	Certificates []types.CertificateID `json:"certificates"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// SubmitCertificate handles POST /v1/certificates.
func (h *Handler) SubmitCertificate(w http.ResponseWriter, r *http.Request) {
	var cert types.Certificate
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(body).Decode(&cert); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.submitter.Submit(r.Context(), &cert)
	if err != nil {
		h.log.Debug("certificate refused", "network", cert.NetworkID, "height", cert.Height, "err", err)
		writeError(w, submitStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{CertificateID: id})
}

// GetCertificateHeader handles GET /v1/certificates/{id}.
func (h *Handler) GetCertificateHeader(w http.ResponseWriter, r *http.Request) {
	var id types.CertificateID
	if err := id.UnmarshalText([]byte(mux.Vars(r)["id"])); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	header, err := h.reader.GetCertificateHeader(id)
	if err != nil {
		writeError(w, readStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

// GetHeaderByHeight handles GET /v1/networks/{network}/certificates/{height}.
func (h *Handler) GetHeaderByHeight(w http.ResponseWriter, r *http.Request) {
	net, ok := networkVar(w, r)
	if !ok {
		return
	}
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	header, err := h.reader.GetCertificateHeaderByHeight(net, types.Height(height))
	if err != nil {
		writeError(w, readStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

// GetLatestSettled handles GET /v1/networks/{network}/settled.
func (h *Handler) GetLatestSettled(w http.ResponseWriter, r *http.Request) {
	net, ok := networkVar(w, r)
	if !ok {
		return
	}
	settled, err := h.reader.GetLatestSettledCertificate(net)
	if err != nil {
		writeError(w, readStatus(err), err)
		return
	}
	if settled == nil {
		writeError(w, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

// GetEpoch handles GET /v1/epochs/{epoch}.
func (h *Handler) GetEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	epoch := types.EpochNumber(n)
	size, err := h.reader.GetEpochSize(epoch)
	if err != nil {
		writeError(w, readStatus(err), err)
		return
	}
	resp := epochResponse{Epoch: epoch, Certificates: make([]types.CertificateID, 0, size)}
	for i := uint64(0); i < size; i++ {
		id, err := h.reader.GetEpochCertificate(epoch, types.CertificateIndex(i))
		if err != nil {
			writeError(w, readStatus(err), err)
			return
		}
		resp.Certificates = append(resp.Certificates, id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// WithHealth makes /healthz serve the reports of hr.
func (h *Handler) WithHealth(hr HealthReporter) *Handler {
	h.health = hr
	return h
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	healthy, report := h.health.HealthReport(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func networkVar(w http.ResponseWriter, r *http.Request) (types.NetworkID, bool) {
	n, err := strconv.ParseUint(mux.Vars(r)["network"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return types.NetworkID(n), true
}

// submitStatus maps a refused submission to its HTTP status.
func submitStatus(err error) int {
	var ice *network.InitialCheckError
	switch {
	case errors.As(err, &ice):
		switch ice.Kind {
		case network.KindIllegalReplacement:
			return http.StatusConflict
		case network.KindStorage:
			return http.StatusInternalServerError
		default:
			return http.StatusUnprocessableEntity
		}
	case errors.Is(err, types.ErrNilAggchainData), errors.Is(err, types.ErrNilAmount):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrNotRunning), errors.Is(err, network.ErrTaskStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ice *network.InitialCheckError
	if errors.As(err, &ice) {
		resp.Kind = ice.Kind.String()
	}
	writeJSON(w, status, resp)
}
