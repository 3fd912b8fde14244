package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/server"
)

// rpcHandler dispatches JSON-RPC requests to the server handler. Protocol
// errors are always answered with HTTP 200 and a JSON-RPC error object.
type rpcHandler struct {
	handler      *server.Handler
	maxBodyBytes int64
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeRPCError(w, nil, &a2a.RPCError{Code: a2a.CodeInvalidRequest, Message: "failed to read request body"})
		return
	}

	var req a2a.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, &a2a.RPCError{Code: a2a.CodeParseError, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion || req.Method == "" {
		writeRPCError(w, req.ID, &a2a.RPCError{Code: a2a.CodeInvalidRequest, Message: "invalid JSON-RPC 2.0 request"})
		return
	}
	slog.Debug("JSON-RPC request", "method", req.Method, "id", req.ID)

	ctx := r.Context()
	switch req.Method {
	case a2a.MethodMessageStream:
		h.serveMessageStream(ctx, w, &req)
		return
	case a2a.MethodTasksResubscribe:
		h.serveResubscribe(ctx, w, &req)
		return
	}

	result, err := h.call(ctx, &req)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, err))
		return
	}
	resp, err := a2a.NewResponse(req.ID, result)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.NewError(a2a.KindInternal, "%v", err)))
		return
	}
	writeResponse(w, resp)
}

// call runs a unary method.
func (h *rpcHandler) call(ctx context.Context, req *a2a.JSONRPCRequest) (any, error) {
	switch req.Method {
	case a2a.MethodMessageSend:
		var params a2a.MessageSendParams
		if err := a2a.DecodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		res, err := h.handler.HandleMessageSend(ctx, &params)
		if err != nil {
			return nil, err
		}
		return res, nil

	case a2a.MethodTasksGet:
		var params a2a.TaskQueryParams
		if err := a2a.DecodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.handler.HandleGetTask(ctx, &params)

	case a2a.MethodTasksCancel:
		var params a2a.TaskIDParams
		if err := a2a.DecodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.handler.HandleCancel(ctx, &params)

	case a2a.MethodPushConfigSet:
		var params a2a.TaskPushConfig
		if err := a2a.DecodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.handler.HandlePushSubscribe(ctx, &params)

	case a2a.MethodPushConfigGet:
		var params a2a.GetTaskPushConfigParams
		if err := a2a.DecodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return h.handler.HandleGetPushConfig(ctx, &a2a.TaskIDParams{ID: params.TaskID})

	default:
		return nil, &a2a.RPCError{Code: a2a.CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func (h *rpcHandler) serveMessageStream(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.MessageSendParams
	if err := a2a.DecodeParams(req.Params, &params); err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, err))
		return
	}
	stream, err := h.handler.HandleMessageStream(ctx, &params)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, err))
		return
	}
	pipeStream(ctx, w, req.ID, stream)
}

func (h *rpcHandler) serveResubscribe(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.TaskIDParams
	if err := a2a.DecodeParams(req.Params, &params); err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, err))
		return
	}
	stream, err := h.handler.HandleResubscribe(ctx, &params)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(req.ID, err))
		return
	}
	pipeStream(ctx, w, req.ID, stream)
}

// pipeStream forwards every event of the stream as one SSE frame until the
// stream ends or the client goes away.
func pipeStream(ctx context.Context, w http.ResponseWriter, id any, stream *server.EventStream) {
	defer stream.Close()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeResponse(w, a2a.NewErrorResponse(id, a2a.NewError(a2a.KindInternal, "%v", err)))
		return
	}
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				_ = sse.writeResponse(a2a.NewErrorResponse(id, err))
			}
			slog.Debug("Event stream ended early", "task_id", stream.TaskID(), "error", err)
			return
		}
		resp, err := a2a.NewResponse(id, ev)
		if err != nil {
			resp = a2a.NewErrorResponse(id, a2a.NewError(a2a.KindInternal, "%v", err))
		}
		if err := sse.writeResponse(resp); err != nil {
			slog.Debug("Stream client went away", "task_id", stream.TaskID(), "error", err)
			return
		}
	}
}

func writeResponse(w http.ResponseWriter, resp *a2a.JSONRPCResponse) {
	writeJSON(w, http.StatusOK, resp)
}

func writeRPCError(w http.ResponseWriter, id any, rpcErr *a2a.RPCError) {
	writeResponse(w, &a2a.JSONRPCResponse{JSONRPC: a2a.JSONRPCVersion, ID: id, Error: rpcErr})
}
