package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/metrico/openlake/config"
	"github.com/metrico/openlake/ingest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	Datasets  *config.Datasets
	Resources *ingest.Resources
}

// Health reports whether the service is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Assets reports the ingestion stage of every configured asset.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) error {
	records := make([]ingest.StatusRecord, 0, len(h.Datasets.Assets))
	for _, a := range h.Datasets.Assets {
		records = append(records, ingest.Status(a, h.Resources))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(records)
}
