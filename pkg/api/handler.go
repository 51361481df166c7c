package api

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"geomvalue/pkg/dialect"
	"geomvalue/pkg/errs"
	"geomvalue/pkg/geometry"
	"geomvalue/pkg/repo"
	"geomvalue/pkg/value"
	"geomvalue/pkg/wire"
)

// APIHandler serves geometry rendering and encoding over REST.
type APIHandler struct {
	repo       *repo.GeometryRepository
	wireFormat value.WireFormat
	log        *logrus.Entry
}

// NewAPIHandler creates a handler. repo may be nil, in which case the feature endpoint
// answers 503.
func NewAPIHandler(r *repo.GeometryRepository, wireFormat value.WireFormat) *APIHandler {
	return &APIHandler{
		repo:       r,
		wireFormat: wireFormat,
		log:        logrus.WithField("component", "api"),
	}
}

// RenderRequest carries a geometry as GeoJSON or as (E)WKT text.
type RenderRequest struct {
	Geometry json.RawMessage `json:"geometry,omitempty"`
	Text     string          `json:"text,omitempty"`
	// SRID applies to a GeoJSON geometry, which has none of its own.
	SRID    int  `json:"srid,omitempty"`
	Length  int  `json:"length,omitempty"`
	Padding bool `json:"padding,omitempty"`
}

type RenderResponse struct {
	Text      string `json:"text"`
	Type      string `json:"type"`
	Dimension int    `json:"dimension"`
	SRID      int    `json:"srid"`
}

type EncodeRequest struct {
	Text string `json:"text"`
	// Format overrides the server wire format, wkb or ewkb.
	Format string `json:"format,omitempty"`
	// Dialect adds the database parameter form of the geometry.
	Dialect string `json:"dialect,omitempty"`
}

type EncodeResponse struct {
	// Frame is the hex encoded wire frame of the value.
	Frame    string          `json:"frame"`
	Format   string          `json:"format"`
	Geometry json.RawMessage `json:"geometry"`
	// DialectValue is the bound parameter, hex encoded when binary.
	DialectValue string `json:"dialect_value,omitempty"`
	ColumnType   string `json:"column_type,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RenderHandler handles POST requests rendering a geometry as EWKT.
func (h *APIHandler) RenderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, errors.New("only POST method is allowed"))
		return
	}

	var req RenderRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, err)
		return
	}

	typ := value.NewGeometryType("geometry").SetLength(req.Length).SetOutputPadding(req.Padding)

	g, err := h.requestGeometry(typ, req)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err)
		return
	}

	text, err := typ.RenderText(value.Native(g))
	if err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, err)
		return
	}

	kind, err := geometry.TypeOf(g)
	if err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, err)
		return
	}

	h.sendJSON(w, http.StatusOK, RenderResponse{
		Text:      text,
		Type:      string(kind),
		Dimension: geometry.CoordinateDimension(g),
		SRID:      g.SRID(),
	})
}

func (h *APIHandler) requestGeometry(typ *value.GeometryType, req RenderRequest) (geom.T, error) {
	switch {
	case len(req.Geometry) > 0 && req.Text != "":
		return nil, errors.New("give either geometry or text, not both")
	case len(req.Geometry) > 0:
		var g geom.T
		if err := geojson.Unmarshal(req.Geometry, &g); err != nil {
			return nil, fmt.Errorf("invalid GeoJSON geometry: %w", err)
		}
		if g == nil {
			return nil, errors.New("missing geometry")
		}
		if req.SRID > 0 {
			return geometry.WithSRID(g, req.SRID)
		}
		return g, nil
	case req.Text != "":
		return typ.Convert(value.Value{Kind: value.KindString, Data: req.Text})
	default:
		return nil, errors.New("missing geometry")
	}
}

// EncodeHandler handles POST requests encoding EWKT into a wire frame and, optionally, a
// database parameter.
func (h *APIHandler) EncodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, errors.New("only POST method is allowed"))
		return
	}

	var req EncodeRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, err)
		return
	}

	format := h.wireFormat
	if req.Format != "" {
		f, err := value.ParseWireFormat(req.Format)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	typ := value.NewGeometryType("geometry").SetWireFormat(format)
	g, err := typ.Convert(value.Value{Kind: value.KindString, Data: req.Text})
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err)
		return
	}

	var frame bytes.Buffer
	if err := wire.WriteValue(&frame, typ, value.Native(g)); err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, err)
		return
	}

	resp := EncodeResponse{
		Frame:    hex.EncodeToString(frame.Bytes()),
		Format:   format.String(),
		Geometry: json.RawMessage("null"),
	}
	if g != nil {
		if resp.Geometry, err = geojson.Marshal(g); err != nil {
			h.sendError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	if req.Dialect != "" {
		family, err := dialect.ParseFamily(req.Dialect)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, err)
			return
		}
		codec, ok := dialect.ForFamily(family)
		if !ok {
			h.sendError(w, http.StatusBadRequest, fmt.Errorf("no geometry support for %s", family))
			return
		}

		p, err := codec.Encode(typ.String(), dialect.Column{Name: "geometry"}, g)
		if err != nil {
			h.sendError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if resp.DialectValue, err = paramText(p); err != nil {
			h.sendError(w, http.StatusUnprocessableEntity, err)
			return
		}
		resp.ColumnType = codec.ColumnDefinition("", false, false)
	}

	h.sendJSON(w, http.StatusOK, resp)
}

// paramText renders a bound parameter: text as is, binary as hex.
func paramText(p dialect.Param) (string, error) {
	v := p.Value
	if valuer, ok := v.(driver.Valuer); ok && v != nil {
		var err error
		if v, err = valuer.Value(); err != nil {
			return "", err
		}
	}

	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return hex.EncodeToString(t), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// FeaturesHandler handles GET requests returning a table as a GeoJSON FeatureCollection.
// The first geometry column is the feature geometry; other geometry columns are rendered as
// EWKT properties.
func (h *APIHandler) FeaturesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, errors.New("only GET method is allowed"))
		return
	}
	if h.repo == nil {
		h.sendError(w, http.StatusServiceUnavailable, errors.New("no database configured"))
		return
	}

	table := r.URL.Query().Get("table")
	if table == "" {
		h.sendError(w, http.StatusBadRequest, errors.New("missing table parameter"))
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.sendError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}

	rs, err := h.repo.Select(r.Context(), table, limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err)
		return
	}

	fc, err := featureCollection(rs)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err)
		return
	}

	h.log.WithFields(logrus.Fields{"table": table, "features": len(fc.Features)}).Debug("features served")
	h.sendJSON(w, http.StatusOK, fc)
}

func featureCollection(rs *repo.ResultSet) (*geojson.FeatureCollection, error) {
	primary := -1
	for i, c := range rs.Columns {
		if c.Geometry != nil {
			primary = i
			break
		}
	}
	if primary < 0 {
		return nil, errors.New("table has no geometry column")
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rs.Rows))}
	for _, row := range rs.Rows {
		f := &geojson.Feature{Properties: make(map[string]any, len(row)-1)}
		for i, c := range rs.Columns {
			v := row[i]
			if c.Geometry == nil {
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				f.Properties[c.Column.Name] = v
				continue
			}

			cell := v.(value.Cell)
			if i == primary {
				f.Geometry = cell.Native()
				continue
			}
			text, ok, err := c.Geometry.RenderTextOK(cell)
			if err != nil {
				return nil, err
			}
			if ok {
				f.Properties[c.Column.Name] = text
			} else {
				f.Properties[c.Column.Name] = nil
			}
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("failed to write response")
	}
}

// sendError sends an error response as JSON, naming the error kind when there is one.
func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Kind = e.Kind.String()
	}
	if statusCode >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	h.sendJSON(w, statusCode, resp)
}
