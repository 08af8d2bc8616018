package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/BaSui01/casegate/types"
)

// LoadTaskArgs are the arguments of load_task.
type LoadTaskArgs struct {
	Identity string `json:"identity" jsonschema:"required,description=The caller's identity key (customer name)"`
}

// SubmitVerificationArgs are the arguments of submit_verification.
type SubmitVerificationArgs struct {
	Answer string `json:"answer" jsonschema:"required,description=The caller's answer to the security challenge"`
}

// RecordResolutionArgs are the arguments of record_resolution.
type RecordResolutionArgs struct {
	Confirmed *bool `json:"confirmed" jsonschema:"required,description=True if the caller recognises the transaction"`
}

type emptyArgs struct{}

type toolSpec struct {
	op          Operation
	description string
	args        any
}

var toolSpecs = []toolSpec{
	{OpLoadTask, "Load the pending fraud case for the caller by identity.", &LoadTaskArgs{}},
	{OpGetChallenge, "Get the security challenge question for the loaded case.", &emptyArgs{}},
	{OpSubmitVerification, "Submit the caller's answer to the security challenge.", &SubmitVerificationArgs{}},
	{OpRevealSensitiveDetails, "Describe the suspicious transaction. Requires a verified caller.", &emptyArgs{}},
	{OpRecordResolution, "Record whether the caller confirms or denies the transaction.", &RecordResolutionArgs{}},
}

// Tools exposes the dispatcher operations as named tools with JSON schemas,
// the surface a conversational front end calls.
type Tools struct {
	d       *Dispatcher
	schemas []types.ToolSchema
}

// NewTools builds the tool surface for d.
func NewTools(d *Dispatcher) (*Tools, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schemas := make([]types.ToolSchema, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		schema := reflector.Reflect(spec.args)
		// 工具参数不需要 $schema 头
		schema.Version = ""
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", spec.op, err)
		}
		schemas = append(schemas, types.ToolSchema{
			Name:        string(spec.op),
			Description: spec.description,
			Parameters:  raw,
			Mutating:    spec.op.Mutating(),
		})
	}
	return &Tools{d: d, schemas: schemas}, nil
}

// Schemas returns the tool definitions in workflow order.
func (t *Tools) Schemas() []types.ToolSchema {
	out := make([]types.ToolSchema, len(t.schemas))
	copy(out, t.schemas)
	return out
}

// Invoke runs one tool call against s. Malformed arguments yield INVALID_REQUEST
// without touching the session; refusals travel inside the encoded Result.
func (t *Tools) Invoke(ctx context.Context, s *Session, call types.ToolCall) (Result, types.ToolResult) {
	start := time.Now()
	res, err := t.dispatch(ctx, s, call)
	tr := types.ToolResult{ToolCallID: call.ID, Name: call.Name}
	if err != nil {
		tr.Error = err
		tr.Duration = time.Since(start)
		return Result{Operation: Operation(call.Name), Status: StatusRefused, Code: err.Code, Message: err.Message}, tr
	}

	payload, merr := json.Marshal(res)
	if merr != nil {
		tr.Error = types.NewError(types.ErrInternalError, "failed to encode result").WithCause(merr)
	} else {
		tr.Result = payload
	}
	tr.Duration = time.Since(start)
	return res, tr
}

func (t *Tools) dispatch(ctx context.Context, s *Session, call types.ToolCall) (Result, *types.Error) {
	switch Operation(call.Name) {
	case OpLoadTask:
		var args LoadTaskArgs
		if err := call.DecodeArguments(&args); err != nil {
			return Result{}, err
		}
		return t.d.LoadTask(ctx, s, args.Identity), nil

	case OpGetChallenge:
		if err := call.DecodeArguments(&emptyArgs{}); err != nil {
			return Result{}, err
		}
		return t.d.GetChallenge(ctx, s), nil

	case OpSubmitVerification:
		var args SubmitVerificationArgs
		if err := call.DecodeArguments(&args); err != nil {
			return Result{}, err
		}
		return t.d.SubmitVerification(ctx, s, args.Answer), nil

	case OpRevealSensitiveDetails:
		if err := call.DecodeArguments(&emptyArgs{}); err != nil {
			return Result{}, err
		}
		return t.d.RevealSensitiveDetails(ctx, s), nil

	case OpRecordResolution:
		var args RecordResolutionArgs
		if err := call.DecodeArguments(&args); err != nil {
			return Result{}, err
		}
		if args.Confirmed == nil {
			return Result{}, types.NewError(types.ErrInvalidRequest, "confirmed is required")
		}
		return t.d.RecordResolution(ctx, s, *args.Confirmed), nil
	}
	return Result{}, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown tool %q", call.Name))
}
