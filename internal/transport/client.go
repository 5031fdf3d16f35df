package transport

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/label"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region types
// Design is a decoded NextDesign response.
type Design struct {
	Value     float64
	Mode      string
	Trial     int
	VersionID string
	FitStatus string
	FitReason string
}

// FitResult is a decoded Await response.
type FitResult struct {
	Status    string
	Reason    string
	Trials    int
	VersionID string
	SessionID string
}
// #endregion types

// #region client-struct
// Client calls a remote DesignEngine.
type Client struct {
	conn *grpc.ClientConn
}
// #endregion client-struct

// #region constructor
// NewClient connects to a DesignEngine server.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
// #endregion constructor

// #region calls
// RecordOutcome records (x, y) and returns the history length.
func (c *Client) RecordOutcome(ctx context.Context, x float64, y int) (int, error) {
	out, err := c.call(ctx, MethodRecordOutcome, map[string]any{"x": x, "y": y})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["trials"].GetNumberValue()), nil
}

// RecordTrial records a raw response and returns the history length and the
// label the server assigned.
func (c *Client) RecordTrial(ctx context.Context, x float64, resp label.Response) (trials, y int, err error) {
	out, err := c.call(ctx, MethodRecordTrial, map[string]any{
		"x":             x,
		"pressed_first": resp.PressedFirst,
		"agency":        resp.Agency,
	})
	if err != nil {
		return 0, 0, err
	}
	f := out.GetFields()
	return int(f["trials"].GetNumberValue()), int(f["y"].GetNumberValue()), nil
}

// NextDesign asks for the next design value. An empty mode uses the server default.
func (c *Client) NextDesign(ctx context.Context, mode string) (Design, error) {
	req := map[string]any{}
	if mode != "" {
		req["mode"] = mode
	}
	out, err := c.call(ctx, MethodNextDesign, req)
	if err != nil {
		return Design{}, err
	}
	f := out.GetFields()
	return Design{
		Value:     f["value"].GetNumberValue(),
		Mode:      f["mode"].GetStringValue(),
		Trial:     int(f["trial"].GetNumberValue()),
		VersionID: f["version_id"].GetStringValue(),
		FitStatus: f["fit_status"].GetStringValue(),
		FitReason: f["fit_reason"].GetStringValue(),
	}, nil
}

// CurrentEstimates returns the live posterior in both parameterizations.
func (c *Client) CurrentEstimates(ctx context.Context) (state.CurrentParams, error) {
	out, err := c.call(ctx, MethodCurrentEstimates, map[string]any{})
	if err != nil {
		return state.CurrentParams{}, err
	}
	f := out.GetFields()
	return state.CurrentParams{
		VersionID: f["version_id"].GetStringValue(),
		Params: prior.Params{
			AlphaMu:    f["alpha_mu"].GetNumberValue(),
			AlphaSigma: f["alpha_sigma"].GetNumberValue(),
			BetaMu:     f["beta_mu"].GetNumberValue(),
			BetaSigma:  f["beta_sigma"].GetNumberValue(),
		},
		Estimates: prior.Estimates{
			ThresholdMean:  f["threshold_mean"].GetNumberValue(),
			ThresholdScale: f["threshold_scale"].GetNumberValue(),
			SlopeMean:      f["slope_mean"].GetNumberValue(),
			SlopeScale:     f["slope_scale"].GetNumberValue(),
		},
	}, nil
}

// Await waits for the session's pending refit and reports how it ended.
func (c *Client) Await(ctx context.Context) (FitResult, error) {
	out, err := c.call(ctx, MethodAwait, map[string]any{})
	if err != nil {
		return FitResult{}, err
	}
	f := out.GetFields()
	return FitResult{
		Status:    f["fit_status"].GetStringValue(),
		Reason:    f["fit_reason"].GetStringValue(),
		Trials:    int(f["trials"].GetNumberValue()),
		VersionID: f["version_id"].GetStringValue(),
		SessionID: f["session_id"].GetStringValue(),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}
// #endregion calls
