package web

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"zigbee-quirks/internal/host"
	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/tuya"
)

const maxBodyBytes = 1 << 20

type clusterRef struct {
	ID    uint16 `json:"id"`
	Name  string `json:"name,omitempty"`
	Local bool   `json:"local"`
}

type replacementEndpointView struct {
	ID          uint8        `json:"id"`
	ProfileID   uint16       `json:"profile_id,omitempty"`
	DeviceType  uint16       `json:"device_type"`
	InClusters  []clusterRef `json:"in_clusters"`
	OutClusters []uint16     `json:"out_clusters"`
}

type quirkView struct {
	Name              string                    `json:"name"`
	Description       string                    `json:"description,omitempty"`
	Signature         quirk.Signature           `json:"signature"`
	SkipConfiguration bool                      `json:"skip_configuration"`
	Replacement       []replacementEndpointView `json:"replacement"`
}

func (s *Server) quirkView(q *quirk.Quirk) quirkView {
	v := quirkView{
		Name:              q.Name,
		Description:       q.Description,
		Signature:         q.Signature,
		SkipConfiguration: q.Replacement.SkipConfiguration,
	}
	ids := make([]int, 0, len(q.Replacement.Endpoints))
	for id := range q.Replacement.Endpoints {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		ep := q.Replacement.Endpoints[uint8(id)]
		ev := replacementEndpointView{
			ID:          uint8(id),
			ProfileID:   ep.ProfileID,
			DeviceType:  ep.DeviceType,
			OutClusters: ep.OutClusters,
		}
		for _, spec := range ep.InClusters {
			ev.InClusters = append(ev.InClusters, clusterRef{
				ID:    spec.ID,
				Name:  s.clusters.Name(spec.ID),
				Local: spec.IsLocal(),
			})
		}
		v.Replacement = append(v.Replacement, ev)
	}
	return v
}

func (s *Server) handleAPIListQuirks(w http.ResponseWriter, r *http.Request) {
	quirks := s.host.Registry().All()
	out := make([]quirkView, 0, len(quirks))
	for _, q := range quirks {
		out = append(out, s.quirkView(q))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.clusters.All())
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	states, err := s.host.States()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.host.State(chi.URLParam(r, "ieee"))
	if err != nil {
		s.writeHostError(w, "get device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIPairDevice(w http.ResponseWriter, r *http.Request) {
	var info quirk.DeviceInfo
	if !s.decode(w, r, &info) {
		return
	}
	if info.IEEEAddress == "" {
		s.writeError(w, http.StatusBadRequest, "ieee_address is required")
		return
	}
	if _, err := s.host.Pair(info); err != nil && !errors.Is(err, quirk.ErrNoMatch) {
		s.writeHostError(w, "pair device", err)
		return
	}
	st, err := s.host.State(info.IEEEAddress)
	if err != nil {
		s.writeHostError(w, "pair device", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

type renameDeviceRequest struct {
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	ieee := chi.URLParam(r, "ieee")
	var req renameDeviceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.host.Rename(ieee, req.FriendlyName); err != nil {
		s.writeHostError(w, "rename device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "friendly_name": req.FriendlyName})
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Remove(chi.URLParam(r, "ieee")); err != nil {
		s.writeHostError(w, "delete device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type writeAttributeRequest struct {
	Endpoint  uint8       `json:"endpoint"`
	ClusterID uint16      `json:"cluster"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

func (s *Server) handleAPIWriteAttribute(w http.ResponseWriter, r *http.Request) {
	ieee := chi.URLParam(r, "ieee")
	var req writeAttributeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Attribute == "" || req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "attribute and value are required")
		return
	}
	err := s.host.WriteAttribute(r.Context(), ieee, req.Endpoint, req.ClusterID, req.Attribute, normalizeValue(req.Value))
	if err != nil {
		s.writeHostError(w, "write attribute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type frameResponse struct {
	Status string `json:"status"`
	Code   uint8  `json:"code"`
}

func (s *Server) handleAPIInjectFrame(w http.ResponseWriter, r *http.Request) {
	ieee := chi.URLParam(r, "ieee")
	var f host.Frame
	if !s.decode(w, r, &f) {
		return
	}
	status, err := s.host.HandleFrame(r.Context(), ieee, f)
	if err != nil {
		s.writeHostError(w, "inject frame", err)
		return
	}
	s.writeJSON(w, http.StatusOK, frameResponse{Status: status.String(), Code: uint8(status)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeHostError maps host and quirk errors to HTTP statuses.
func (s *Server) writeHostError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, host.ErrUnknownDevice):
		s.writeError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, host.ErrUnmatched):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quirk.ErrReadOnly),
		errors.Is(err, quirk.ErrUnknownAttribute),
		errors.Is(err, quirk.ErrOutOfRange),
		errors.Is(err, tuya.ErrMapping),
		errors.Is(err, host.ErrNoCluster):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, host.ErrNoTransport):
		s.writeError(w, http.StatusServiceUnavailable, "no coordinator transport")
	default:
		s.logger.Error(op, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// normalizeValue turns whole JSON numbers into int64 so integer converters
// accept them.
func normalizeValue(v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return v
	}
	return int64(f)
}
