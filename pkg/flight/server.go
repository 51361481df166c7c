package flight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"geomvalue/pkg/batch"
	"geomvalue/pkg/value"
	"geomvalue/pkg/wire"
)

// Operations accepted in the exchange metadata.
const (
	OpRenderText = "render_text"
	OpEncode     = "encode"
	OpFrame      = "frame"
	OpReproject  = "reproject"
)

const defaultColumn = "shape"

// Reprojector transforms a geometry column to another SRID.
type Reprojector interface {
	TransformCells(ctx context.Context, typ *value.GeometryType, cells []value.Cell, srid int) ([]value.Cell, error)
}

type Options struct {
	// DataDir receives spilled batches. Empty means the system temp directory.
	DataDir string
	// SpillRows is the number of buffered rows above which incoming batches go to parquet.
	SpillRows  int64
	WireFormat value.WireFormat
	// Projector serves the reproject operation. The operation is refused when nil.
	Projector Reprojector
}

// Action is the JSON metadata of the first exchange message.
type Action struct {
	Operation string `json:"operation"`
	Column    string `json:"column"`
	SRID      int    `json:"srid"`
	Length    int    `json:"length"`
	Padding   bool   `json:"padding"`
}

// GeometryFlightServer transcodes geometry columns of streamed record batches.
type GeometryFlightServer struct {
	flight.BaseFlightServer
	opts Options
	mem  memory.Allocator
	log  *logrus.Entry
}

func NewGeometryFlightServer(opts Options) *GeometryFlightServer {
	if opts.SpillRows <= 0 {
		opts.SpillRows = 1000 * 1000
	}
	return &GeometryFlightServer{
		opts: opts,
		mem:  memory.NewGoAllocator(),
		log:  logrus.WithField("component", "flight"),
	}
}

func (s *GeometryFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	desc, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	action := parseAction(desc)
	s.log.WithFields(logrus.Fields{"operation": action.Operation, "column": action.Column}).Info("exchange started")

	switch action.Operation {
	case OpRenderText, OpEncode, OpFrame:
	case OpReproject:
		if s.opts.Projector == nil {
			return status.Error(codes.Unimplemented, "reprojection is not configured")
		}
		if action.SRID <= 0 {
			return status.Errorf(codes.InvalidArgument, "reproject needs a target srid, got %d", action.SRID)
		}
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported operation: %s", action.Operation)
	}

	records, release, err := s.receive(stream)
	if err != nil {
		return err
	}
	defer release()

	if len(records) == 0 {
		return status.Error(codes.InvalidArgument, "no records received")
	}

	var writer *flight.Writer
	for _, rec := range records {
		out, err := s.transcode(stream.Context(), action, rec)
		if err != nil {
			return err
		}

		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(out.Schema()))
			defer writer.Close()
		}
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
	}

	return nil
}

// parseAction reads the operation from the app metadata, falling back to the descriptor
// command. Metadata that is not JSON is taken as the bare operation name.
func parseAction(desc *flight.FlightData) Action {
	raw := desc.AppMetadata
	if len(raw) == 0 && desc.FlightDescriptor != nil {
		raw = desc.FlightDescriptor.Cmd
	}

	var action Action
	if err := json.Unmarshal(raw, &action); err != nil || action.Operation == "" {
		action = Action{Operation: string(raw)}
	}
	if action.Column == "" {
		action.Column = defaultColumn
	}
	return action
}

// receive buffers the incoming batches. Past SpillRows buffered rows every batch goes to a
// parquet sink, and the merged file is loaded back once the stream ends.
func (s *GeometryFlightServer) receive(stream flight.FlightService_DoExchangeServer) ([]arrow.RecordBatch, func(), error) {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Release()

	var records []arrow.RecordBatch
	releaseAll := func() {
		for _, r := range records {
			r.Release()
		}
	}

	var sink *batch.Sink
	var buffered int64
	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		records = append(records, rec)
		buffered += rec.NumRows()

		if buffered < s.opts.SpillRows {
			continue
		}

		if sink == nil {
			if sink, err = batch.NewSink(s.opts.DataDir); err != nil {
				releaseAll()
				return nil, nil, fmt.Errorf("failed to create batch sink: %w", err)
			}
			defer sink.Cleanup()
		}
		s.log.WithField("rows", buffered).Info("buffered rows exceed threshold, writing to parquet")
		for _, r := range records {
			if err := sink.Add(r); err != nil {
				releaseAll()
				return nil, nil, fmt.Errorf("failed to spill record batch: %w", err)
			}
		}
		releaseAll()
		records = nil
		buffered = 0
	}
	if err := reader.Err(); err != nil {
		releaseAll()
		return nil, nil, err
	}

	if sink == nil {
		return records, releaseAll, nil
	}

	for _, r := range records {
		if err := sink.Add(r); err != nil {
			releaseAll()
			return nil, nil, fmt.Errorf("failed to spill record batch: %w", err)
		}
	}
	releaseAll()

	merged, err := sink.Merge(stream.Context())
	if err != nil {
		return nil, nil, err
	}
	records, err = batch.Load(stream.Context(), merged, s.mem)
	if err != nil {
		return nil, nil, err
	}
	return records, releaseAll, nil
}

// transcode replaces the action's column of rec with its converted form.
func (s *GeometryFlightServer) transcode(ctx context.Context, action Action, rec arrow.RecordBatch) (arrow.RecordBatch, error) {
	idx := rec.Schema().FieldIndices(action.Column)
	if len(idx) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "record has no column %s", action.Column)
	}
	i := idx[0]

	typ := value.NewGeometryType(action.Column).
		SetWireFormat(s.opts.WireFormat).
		SetLength(action.Length).
		SetOutputPadding(action.Padding)

	var field arrow.Field
	var arr arrow.Array
	var err error

	switch action.Operation {
	case OpEncode:
		var cells []value.Cell
		if cells, err = parseCells(typ, rec.Column(i)); err != nil {
			return nil, err
		}
		field = batch.Field(typ)
		arr, err = batch.FromCells(s.mem, typ, cells)
	case OpRenderText:
		var cells []value.Cell
		if cells, err = batch.ToCells(typ, rec.Column(i)); err != nil {
			return nil, err
		}
		field = arrow.Field{Name: action.Column, Type: arrow.BinaryTypes.String, Nullable: true}
		arr, err = batch.RenderArray(s.mem, typ, cells)
	case OpFrame:
		var cells []value.Cell
		if cells, err = batch.ToCells(typ, rec.Column(i)); err != nil {
			return nil, err
		}
		field = arrow.Field{Name: action.Column, Type: arrow.BinaryTypes.Binary}
		arr, err = s.frames(typ, cells)
	case OpReproject:
		var cells []value.Cell
		if cells, err = batch.ToCells(typ, rec.Column(i)); err != nil {
			return nil, err
		}
		if cells, err = s.opts.Projector.TransformCells(ctx, typ, cells, action.SRID); err != nil {
			return nil, err
		}
		field = batch.Field(typ)
		arr, err = batch.FromCells(s.mem, typ, cells)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported operation: %s", action.Operation)
	}
	if err != nil {
		return nil, err
	}
	defer arr.Release()

	fields := append([]arrow.Field(nil), rec.Schema().Fields()...)
	fields[i] = field
	cols := append([]arrow.Array(nil), rec.Columns()...)
	cols[i] = arr

	return array.NewRecordBatch(arrow.NewSchema(fields, nil), cols, rec.NumRows()), nil
}

// parseCells converts a text column of WKT, optionally SRID-prefixed, into native cells.
func parseCells(typ *value.GeometryType, arr arrow.Array) ([]value.Cell, error) {
	text, ok := arr.(*array.String)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "column %s is %s, not utf8", typ.Name(), arr.DataType())
	}

	cells := make([]value.Cell, text.Len())
	for i := range cells {
		if text.IsNull(i) {
			cells[i] = value.Null(value.StorageNative)
			continue
		}
		g, err := typ.Convert(value.Value{Kind: value.KindString, Data: text.Value(i)})
		if err != nil {
			return nil, err
		}
		cells[i] = value.Native(g)
	}
	return cells, nil
}

// frames writes every cell as a wire frame, one binary value per row.
func (s *GeometryFlightServer) frames(typ *value.GeometryType, cells []value.Cell) (arrow.Array, error) {
	b := array.NewBinaryBuilder(s.mem, arrow.BinaryTypes.Binary)
	defer b.Release()

	var buf bytes.Buffer
	for _, c := range cells {
		buf.Reset()
		if err := wire.WriteValue(&buf, typ, c); err != nil {
			return nil, err
		}
		b.Append(buf.Bytes())
	}
	return b.NewArray(), nil
}
