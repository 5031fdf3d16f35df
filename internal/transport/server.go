package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/label"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server
// Server exposes one engine session over gRPC.
type Server struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// NewServer wraps eng. A nil logger uses slog.Default().
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{eng: eng, logger: logger.With("component", "transport")}
}

// NewGRPCServer builds a grpc.Server with request logging and srv registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.logRequests))
	g := grpc.NewServer(opts...)
	RegisterDesignEngineServer(g, srv)
	return g
}

func (s *Server) logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	began := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	level := slog.LevelDebug
	if code != codes.OK {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rpc",
		"method", info.FullMethod,
		"code", code.String(),
		"duration", time.Since(began),
	)
	return resp, err
}
// #endregion server

// #region handlers
// RecordOutcome expects {x: number, y: 0|1}.
func (s *Server) RecordOutcome(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	x, err := numberField(in, "x")
	if err != nil {
		return nil, err
	}
	y, err := intField(in, "y")
	if err != nil {
		return nil, err
	}
	if err := s.eng.RecordOutcome(ctx, x, y); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"trials": s.eng.Len()})
}

// RecordTrial expects {x: number, pressed_first: bool, agency: 0|1} and
// labels it with the session's rule.
func (s *Server) RecordTrial(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	x, err := numberField(in, "x")
	if err != nil {
		return nil, err
	}
	agency, err := intField(in, "agency")
	if err != nil {
		return nil, err
	}
	resp := label.Response{
		PressedFirst: in.GetFields()["pressed_first"].GetBoolValue(),
		Agency:       agency,
	}
	y, err := s.eng.RecordTrial(ctx, x, resp)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"trials": s.eng.Len(),
		"y":      y,
	})
}

// NextDesign expects {mode: "oed"|"bopt"}; a missing mode uses the session default.
func (s *Server) NextDesign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	mode := in.GetFields()["mode"].GetStringValue()
	d, err := s.eng.NextDesign(ctx, mode)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"value":      d.Value,
		"mode":       d.Mode,
		"trial":      d.Trial,
		"version_id": d.VersionID,
		"fit_status": string(d.Fit.Status),
	}
	if d.Fit.Reason != "" {
		out["fit_reason"] = d.Fit.Reason
	}
	return newStruct(out)
}

// CurrentEstimates returns the live posterior, as moments and as log-space
// parameters, without waiting on a refit.
func (s *Server) CurrentEstimates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cur := s.eng.CurrentParams()
	return newStruct(map[string]any{
		"threshold_mean":  cur.ThresholdMean,
		"threshold_scale": cur.ThresholdScale,
		"slope_mean":      cur.SlopeMean,
		"slope_scale":     cur.SlopeScale,
		"alpha_mu":        cur.AlphaMu,
		"alpha_sigma":     cur.AlphaSigma,
		"beta_mu":         cur.BetaMu,
		"beta_sigma":      cur.BetaSigma,
		"trials":          s.eng.Len(),
		"version_id":      cur.VersionID,
		"session_id":      s.eng.SessionID(),
	})
}

// Await blocks until the pending refit, if any, has finished and reports how
// it ended.
func (s *Server) Await(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fit, err := s.eng.Await(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"fit_status": string(fit.Status),
		"trials":     fit.NumObservations,
		"version_id": fit.VersionID,
		"session_id": s.eng.SessionID(),
	}
	if fit.Reason != "" {
		out["fit_reason"] = fit.Reason
	}
	return newStruct(out)
}
// #endregion handlers

// #region helpers
func numberField(in *structpb.Struct, name string) (float64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "field %q must be a number", name)
	}
	return n.NumberValue, nil
}

func intField(in *structpb.Struct, name string) (int, error) {
	f, err := numberField(in, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "field %q must be an integer, got %v", name, f)
	}
	return int(f), nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// toStatus maps engine errors to gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, engine.ErrInvalidObservation),
		errors.Is(err, engine.ErrInvalidMode):
		code = codes.InvalidArgument
	case errors.Is(err, engine.ErrEmptyCandidateSet):
		code = codes.FailedPrecondition
	case errors.Is(err, engine.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
// #endregion helpers
