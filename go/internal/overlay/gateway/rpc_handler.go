package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/gorilla/mux"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

const (
	// TopicServiceName is the fully-qualified name of the topic RPC service.
	TopicServiceName = "overlay.v1.TopicService"
	// TimeServiceName is the fully-qualified name of the time RPC service.
	TimeServiceName = "overlay.v1.TimeService"

	TopicServiceGetStateProcedure = "/" + TopicServiceName + "/GetState"
	TopicServiceApplyProcedure    = "/" + TopicServiceName + "/Apply"
	TimeServiceNowProcedure       = "/" + TimeServiceName + "/Now"
)

// RPCHandler exposes topic state and server time over Connect for clients that cannot hold a
// websocket open. Messages are protobuf well-known types:
//
//	GetState: {"topic": "card"} -> state
//	Apply:    {"topic": "card", "payload": {"action": "hide"}} -> ack
//	Now:      Empty -> Timestamp
type RPCHandler struct {
	connectionManager *ConnectionManager
}

// NewRPCHandler creates a new RPC handler
func NewRPCHandler(cm *ConnectionManager) *RPCHandler {
	return &RPCHandler{connectionManager: cm}
}

// RegisterRoutes mounts every procedure on mux
func (h *RPCHandler) RegisterRoutes(r *mux.Router, opts ...connect.HandlerOption) {
	r.Handle(TopicServiceGetStateProcedure, connect.NewUnaryHandler(TopicServiceGetStateProcedure, h.GetState, opts...))
	r.Handle(TopicServiceApplyProcedure, connect.NewUnaryHandler(TopicServiceApplyProcedure, h.Apply, opts...))
	r.Handle(TimeServiceNowProcedure, connect.NewUnaryHandler(TimeServiceNowProcedure, h.Now, opts...))
}

// GetState returns the current state of a topic
func (h *RPCHandler) GetState(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Value], error) {
	topic, err := topics.ParseTopic(req.Msg.GetFields()["topic"].GetStringValue())
	if err != nil {
		return nil, toConnectError(err)
	}

	var state any
	err = h.call(ctx, func(ctx context.Context) error {
		var err error
		state, err = h.connectionManager.registry.Subscribe(ctx, topic)
		return err
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	value, err := toValue(state)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(value), nil
}

// Apply applies a socket style action payload and syncs every subscriber
func (h *RPCHandler) Apply(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	topic, err := topics.ParseTopic(fields["topic"].GetStringValue())
	if err != nil {
		return nil, toConnectError(err)
	}
	if fields["payload"] == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("payload is required"))
	}
	payload, err := fields["payload"].MarshalJSON()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var ack protocol.Ack
	err = h.call(ctx, func(ctx context.Context) error {
		result, err := h.connectionManager.registry.Apply(ctx, topic, payload)
		if err != nil {
			return err
		}
		ack = protocol.OK(h.connectionManager.registry.Now(), result.Extra)
		h.connectionManager.publish(topic, result.State, "")
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	raw, err := json.Marshal(ack)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// Now returns the server clock
func (h *RPCHandler) Now(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	return connect.NewResponse(timestamppb.New(h.connectionManager.clock.Now())), nil
}

func (h *RPCHandler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	if err := h.connectionManager.Do(ctx, func(ctx context.Context) {
		fnErr = fn(ctx)
	}); err != nil {
		return err
	}
	return fnErr
}

// toValue converts any JSON-encodable state into a structpb value
func toValue(v any) (*structpb.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	value := &structpb.Value{}
	if err := value.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("convert state: %w", err)
	}
	return value, nil
}

func toConnectError(err error) *connect.Error {
	if errors.Is(err, ErrStopped) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}

	perr := protocol.AsError(err)
	switch perr.Code {
	case protocol.CodeInvalidMessage, protocol.CodeInvalidTopic, protocol.CodeInvalidAction:
		return connect.NewError(connect.CodeInvalidArgument, perr)
	case protocol.CodeNotSubscribed:
		return connect.NewError(connect.CodePermissionDenied, perr)
	case protocol.CodeTransportDisconnected:
		return connect.NewError(connect.CodeUnavailable, perr)
	case protocol.CodeAckTimeout:
		return connect.NewError(connect.CodeDeadlineExceeded, perr)
	default:
		return connect.NewError(connect.CodeInternal, perr)
	}
}
