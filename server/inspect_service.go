package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/simrt"
	"github.com/chazu/rootstack/trace"
)

// InspectionServiceName is the fully-qualified name of the inspection service.
const InspectionServiceName = "rootstack.v1.InspectionService"

// Procedure paths of the inspection service.
const (
	InspectionServiceStatsProcedure    = "/" + InspectionServiceName + "/Stats"
	InspectionServiceSnapshotProcedure = "/" + InspectionServiceName + "/Snapshot"
	InspectionServiceEventsProcedure   = "/" + InspectionServiceName + "/Events"
	InspectionServiceCollectProcedure  = "/" + InspectionServiceName + "/Collect"
)

// Collector is a runtime that can be asked to collect garbage.
type Collector interface {
	Collect() (*simrt.CollectStats, error)
}

// InspectService implements the InspectionService Connect handler. Every
// request touching the session runs on the session worker.
type InspectService struct {
	worker    *embed.Worker
	recorder  *trace.Recorder
	collector Collector
}

// NewInspectService creates an InspectService. recorder and collector may
// be nil, in which case Events and Collect are unimplemented.
func NewInspectService(worker *embed.Worker, recorder *trace.Recorder, collector Collector) *InspectService {
	return &InspectService{
		worker:    worker,
		recorder:  recorder,
		collector: collector,
	}
}

// Stats returns the session's stack statistics.
func (s *InspectService) Stats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	var st embed.Stats
	err := s.worker.Do(func(sess *embed.Session) error {
		st = sess.Stats()
		return nil
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := structpb.NewStruct(statsFields(st))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Snapshot returns the session's live frames as canonical CBOR.
func (s *InspectService) Snapshot(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[wrapperspb.BytesValue], error) {
	var data []byte
	err := s.worker.Do(func(sess *embed.Session) error {
		snap := sess.Snapshot()
		if snap == nil {
			return embed.ErrSessionClosed
		}
		var err error
		data, err = gcstack.MarshalSnapshot(snap)
		return err
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(wrapperspb.Bytes(data)), nil
}

// Events returns the frame events recorded so far.
func (s *InspectService) Events(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if s.recorder == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("no frame recorder configured"))
	}
	events := s.recorder.Events()
	list := make([]any, len(events))
	for i, e := range events {
		list[i] = map[string]any{
			"seq":      e.Seq,
			"stack":    e.Stack,
			"kind":     string(e.Kind),
			"frame":    e.Frame,
			"capacity": e.Capacity,
			"offset":   e.Offset,
			"depth":    e.Depth,
			"at":       e.At.UTC().Format(time.RFC3339Nano),
		}
	}
	msg, err := structpb.NewStruct(map[string]any{
		"events":  list,
		"dropped": s.recorder.Dropped(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Collect runs a collection on the session worker and returns its stats.
func (s *InspectService) Collect(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if s.collector == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("runtime cannot collect on demand"))
	}
	var stats *simrt.CollectStats
	err := s.worker.Do(func(*embed.Session) error {
		var err error
		stats, err = s.collector.Collect()
		return err
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	msg, err := structpb.NewStruct(map[string]any{
		"heads":      stats.Heads,
		"frames":     stats.Frames,
		"roots":      stats.Roots,
		"swept":      stats.Swept,
		"live":       stats.Live,
		"durationNs": stats.Duration.Nanoseconds(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func statsFields(st embed.Stats) map[string]any {
	return map[string]any{
		"name":      st.Name,
		"mode":      st.Mode,
		"size":      st.Size,
		"used":      st.Used,
		"remaining": st.Remaining,
		"depth":     st.Depth,
		"liveRoots": st.LiveRoots,
		"frames":    st.Frames,
		"overflows": st.Overflows,
	}
}

// NewInspectionServiceHandler builds an HTTP handler for svc. It returns
// the path on which to mount the handler and the handler itself.
func NewInspectionServiceHandler(svc *InspectService, opts ...connect.HandlerOption) (string, http.Handler) {
	stats := connect.NewUnaryHandler(InspectionServiceStatsProcedure, svc.Stats, opts...)
	snapshot := connect.NewUnaryHandler(InspectionServiceSnapshotProcedure, svc.Snapshot, opts...)
	events := connect.NewUnaryHandler(InspectionServiceEventsProcedure, svc.Events, opts...)
	collect := connect.NewUnaryHandler(InspectionServiceCollectProcedure, svc.Collect, opts...)
	return "/" + InspectionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimSuffix(r.URL.Path, "/") {
		case InspectionServiceStatsProcedure:
			stats.ServeHTTP(w, r)
		case InspectionServiceSnapshotProcedure:
			snapshot.ServeHTTP(w, r)
		case InspectionServiceEventsProcedure:
			events.ServeHTTP(w, r)
		case InspectionServiceCollectProcedure:
			collect.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
