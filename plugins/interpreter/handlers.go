package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/expression"
	"github.com/appbaseio/upgrade-assistant/model/registry"
	"github.com/appbaseio/upgrade-assistant/model/types"
	"github.com/appbaseio/upgrade-assistant/util"
)

type catalog struct {
	Functions []*registry.FnDef `json:"functions"`
	Types     []string          `json:"types"`
}

type functionCall struct {
	ID           int64                  `json:"id"`
	FunctionName string                 `json:"functionName"`
	Args         map[string]interface{} `json:"args"`
	Context      interface{}            `json:"context"`
}

type batchRequest struct {
	Functions []functionCall `json:"functions"`
}

type callResult struct {
	ID     int64       `json:"id"`
	Result interface{} `json:"result"`
}

type batchResponse struct {
	Results []callResult `json:"results"`
}

// callError is the result of a call that failed on the server.
type callError struct {
	StatusCode int    `json:"statusCode"`
	Err        string `json:"err"`
	Message    string `json:"message"`
}

type runRequest struct {
	Expression string      `json:"expression"`
	Context    interface{} `json:"context"`
}

type runResponse struct {
	Result interface{} `json:"result"`
}

func (ip *interpreter) listFunctions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		util.WriteBackJSON(w, catalog{
			Functions: ip.functions.All(),
			Types:     types.Names(ip.types),
		}, http.StatusOK)
	}
}

func (ip *interpreter) runFunctions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeBody(r, &req); err != nil {
			util.WriteBackError(w, err.Error(), http.StatusBadRequest)
			return
		}

		results := make([]callResult, len(req.Functions))
		var wg sync.WaitGroup
		for n, call := range req.Functions {
			wg.Add(1)
			go func(n int, call functionCall) {
				defer wg.Done()
				results[n] = callResult{ID: call.ID, Result: ip.runFunction(r.Context(), call)}
			}(n, call)
		}
		wg.Wait()
		util.WriteBackJSON(w, batchResponse{results}, http.StatusOK)
	}
}

// runFunction returns the output of one call of a batch, or a *callError.
func (ip *interpreter) runFunction(ctx context.Context, call functionCall) (result interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorln(logTag, ": recovered from panic in function", call.FunctionName, ":", r, "\n", string(debug.Stack()))
			result = newCallError(fmt.Errorf("%v", r))
		}
	}()

	input, err := ip.types.Deserialize(call.Context)
	if err != nil {
		return newCallError(errors.NewBadRequestError("invalid context: %v", err))
	}
	output, err := ip.interpreter.Call(ctx, call.FunctionName, input, call.Args)
	if err != nil {
		return newCallError(err)
	}
	serialized, err := ip.types.Serialize(output)
	if err != nil {
		return newCallError(err)
	}
	return serialized
}

func newCallError(err error) *callError {
	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Errorln(logTag, ":", err)
	}
	return &callError{StatusCode: code, Err: http.StatusText(code), Message: err.Error()}
}

func (ip *interpreter) runExpression() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := decodeBody(r, &req); err != nil {
			util.WriteBackError(w, err.Error(), http.StatusBadRequest)
			return
		}
		node, err := expression.FromExpression(req.Expression, expression.ExpressionRule)
		if err != nil {
			util.WriteBackError(w, err.Error(), http.StatusBadRequest)
			return
		}
		input, err := ip.types.Deserialize(req.Context)
		if err != nil {
			util.WriteBackError(w, "invalid context: "+err.Error(), http.StatusBadRequest)
			return
		}
		output, err := ip.interpreter.Interpret(r.Context(), node, input)
		if err != nil {
			util.WriteBackError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		util.WriteBackJSON(w, runResponse{output}, http.StatusOK)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("can't read request body: %v", err)
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("can't parse request body: %v", err)
	}
	return nil
}
