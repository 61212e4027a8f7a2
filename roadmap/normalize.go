package roadmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// apiSegment is a segment record as it arrives from the backend export API or
// from a bundled dataset. Every field is optional.
type apiSegment struct {
	Numero     flexInt     `json:"numero"`
	ID         flexInt     `json:"id"`
	Nombre     Names       `json:"nombre"`
	Longitud   float64     `json:"longitud"`
	Tipo       string      `json:"tipo"`
	LatOrigen  float64     `json:"latitud_origen"`
	LatDestino float64     `json:"latitud_destino"`
	LonOrigen  float64     `json:"longitud_origen"`
	LonDestino float64     `json:"longitud_destino"`
	Geometria  []Vertex    `json:"geometria"`
	Geometrias []Vertex    `json:"geometrias"`
	Fecha      string      `json:"fecha"`
	Built      string      `json:"fecha_construccion"`
	Inspected  string      `json:"ultima_inspeccion"`
	IQR        *float64    `json:"IQR"`
	IRI        float64     `json:"iri"`
	IRIMod     float64     `json:"IRI_modificado"`
	AZ         float64     `json:"az"`
	AX         float64     `json:"ax"`
	WX         float64     `json:"wx"`
	Huecos     []Defect    `json:"huecos"`
	Muestras   []apiSample `json:"muestras"`
}

type apiSample struct {
	Indices *struct {
		IRI         float64 `json:"iri"`
		IRIModified float64 `json:"iri_modificado"`
		NotaGeneral float64 `json:"nota_general"`
	} `json:"indices"`
	Huecos []Defect `json:"huecos"`
}

// flexInt accepts a JSON number or a numeric string. Anything else reads as 0.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*n = flexInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*n = flexInt(int(f))
		return nil
	}
	*n = 0
	return nil
}

// exportEnvelope is the body of the all-data and by-type endpoints.
type exportEnvelope struct {
	Segmentos []apiSegment `json:"segmentos"`
}

// DecodeSegments parses a dataset body. It accepts an export envelope
// ({"segmentos": [...]}) or a bare array of segment records.
func DecodeSegments(data []byte) ([]RoadSegment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoData
	}

	var raw []apiSegment
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	} else {
		var env exportEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
		raw = env.Segmentos
	}
	return normalizeSegments(raw), nil
}

func normalizeSegments(raw []apiSegment) []RoadSegment {
	out := make([]RoadSegment, 0, len(raw))
	for _, a := range raw {
		out = append(out, normalizeSegment(a))
	}
	return out
}

// normalizeSegment fills defaults so every RoadSegment entering the map
// pipeline has non-nil slices and a polyline in draw order.
func normalizeSegment(a apiSegment) RoadSegment {
	s := RoadSegment{
		Numero:    int(a.Numero),
		ID:        int(a.ID),
		Names:     a.Nombre,
		Length:    a.Longitud,
		Kind:      a.Tipo,
		OriginLat: a.LatOrigen,
		DestLat:   a.LatDestino,
		OriginLon: a.LonOrigen,
		DestLon:   a.LonDestino,
		Date:      firstNonEmpty(a.Fecha, a.Built, a.Inspected),
		IRI:       a.IRI,
		AZ:        a.AZ,
		AX:        a.AX,
		WX:        a.WX,
	}
	if s.Names == nil {
		s.Names = Names{}
	}

	switch {
	case len(a.Geometria) > 0:
		s.Geometry = append([]Vertex(nil), a.Geometria...)
	case len(a.Geometrias) > 0:
		s.Geometry = make([]Vertex, len(a.Geometrias))
		for i, v := range a.Geometrias {
			v.Order = i + 1
			s.Geometry[i] = v
		}
	default:
		s.Geometry = []Vertex{}
	}
	sort.SliceStable(s.Geometry, func(i, j int) bool {
		return s.Geometry[i].Order < s.Geometry[j].Order
	})

	if len(a.Muestras) > 0 {
		var quality, roughness []float64
		for _, m := range a.Muestras {
			if m.Indices == nil {
				continue
			}
			if m.Indices.NotaGeneral > 0 {
				quality = append(quality, m.Indices.NotaGeneral)
			}
			if m.Indices.IRIModified > 0 {
				roughness = append(roughness, m.Indices.IRIModified)
			}
		}
		s.IQR = mean(quality)
		s.IRI = mean(roughness)
		s.IRIModified = s.IRI
	} else {
		if a.IQR != nil {
			s.IQR = *a.IQR
		}
		s.IRIModified = a.IRIMod
	}

	switch {
	case a.Huecos != nil:
		s.Defects = append([]Defect(nil), a.Huecos...)
	default:
		s.Defects = []Defect{}
		for _, m := range a.Muestras {
			s.Defects = append(s.Defects, m.Huecos...)
		}
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
