package broker

import (
	"context"

	"github.com/project-aether/aetheros/internal/doctrine"
)

// DoctrineBackend adapts the doctrine KB to the broker's generic query
// path. Recognized params: "query" (string), "filters" (map[string]string),
// "top_k" (int).
type DoctrineBackend struct {
	KB *doctrine.KB
}

func (d *DoctrineBackend) Query(ctx context.Context, params Params) ([]Record, error) {
	query, _ := params["query"].(string)
	filters, _ := params["filters"].(map[string]string)
	topK, _ := params["top_k"].(int)

	hits, err := d.KB.Query(ctx, query, filters, topK)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(hits))
	for i, h := range hits {
		records[i] = Record{
			ID: h.ID,
			Data: map[string]any{
				"content":  h.Content,
				"metadata": h.Metadata,
				"score":    float64(h.Score),
			},
		}
	}
	return records, nil
}

// ThreatBackend adapts a ThreatStore. Recognized params: "area" (string),
// "types" ([]string).
type ThreatBackend struct {
	Store ThreatStore
}

func (t *ThreatBackend) Query(ctx context.Context, params Params) ([]Record, error) {
	area, _ := params["area"].(string)
	types, _ := params["types"].([]string)

	threats, err := t.Store.Query(ctx, area, types)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(threats))
	for i, th := range threats {
		records[i] = Record{
			ID: th.ID,
			Data: map[string]any{
				"threat_type": th.Type,
				"location": map[string]any{
					"lat": th.Lat,
					"lon": th.Lon,
				},
				"frequency_bands":    th.FrequencyBands,
				"sources":            th.Sources,
				"collection_methods": th.CollectionMethods,
			},
		}
	}
	return records, nil
}

// SpectrumBackend adapts a SpectrumStore, exposing current allocations.
type SpectrumBackend struct {
	Store SpectrumStore
}

func (s *SpectrumBackend) Query(ctx context.Context, _ Params) ([]Record, error) {
	allocs, err := s.Store.Allocations(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(allocs))
	for i, a := range allocs {
		records[i] = Record{
			ID: a.ID,
			Data: map[string]any{
				"frequency_min_mhz": a.Range.MinMHz,
				"frequency_max_mhz": a.Range.MaxMHz,
				"start_time":        a.Window.Start,
				"end_time":          a.Window.End,
				"mission_id":        a.MissionID,
				"area":              a.Area,
			},
		}
	}
	return records, nil
}

// AssetBackend adapts an AssetStore. Recognized params: "types" ([]string),
// "capabilities" ([]string).
type AssetBackend struct {
	Store AssetStore
}

func (a *AssetBackend) Query(ctx context.Context, params Params) ([]Record, error) {
	types, _ := params["types"].([]string)
	caps, _ := params["capabilities"].([]string)

	assets, err := a.Store.QueryAvailability(ctx, types, caps)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(assets))
	for i, asset := range assets {
		records[i] = Record{
			ID: asset.ID,
			Data: map[string]any{
				"platform":     asset.Platform,
				"asset_type":   asset.Type,
				"capabilities": asset.Capabilities,
				"status":       asset.Status,
			},
		}
	}
	return records, nil
}

// StaticBackend serves a fixed record set, for the mission, organizational,
// and metrics categories and for tests.
type StaticBackend struct {
	Records []Record
}

func (s *StaticBackend) Query(_ context.Context, _ Params) ([]Record, error) {
	out := make([]Record, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Clone()
	}
	return out, nil
}
