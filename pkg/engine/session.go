// Package engine wraps the native reverse-engineering binary (C4): one
// subprocess per analysis session, talking newline-delimited JSON over its
// stdin/stdout pipes. The wire codec uses go-faster/jx for low-allocation
// encoding, and an itchyny/gojq expression pulls the canonical function
// address out of each raw function object — kept configurable because an
// earlier integration read the wrong field name and silently zeroed every
// address (see extractFunctions).
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/go-faster/jx"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
)

// Request is one analysis request sent to the engine subprocess.
type Request struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
	Format   string `json:"format,omitempty"` // hint; engine still sniffs
}

// rawResponse is the engine's wire shape before address extraction; Functions
// is deliberately kept as raw JSON so extractFunctions can pull each address
// from whatever field the engine actually emits, per the addressFieldPath
// expression.
type rawResponse struct {
	Status    string                        `json:"status"`
	Metadata  domain.DecompilationMetadata  `json:"metadata"`
	Functions []json.RawMessage             `json:"functions"`
	Imports   []domain.ImportRecord         `json:"imports"`
	Strings   []domain.StringRecord         `json:"strings"`
	Errors    []string                      `json:"errors,omitempty"`
}

// Session runs one engine subprocess invocation to completion.
type Session struct {
	binaryPath       string
	addressFieldPath string
	timeout          time.Duration
}

// NewSession builds a Session. addressFieldPath is a gojq expression
// (e.g. ".address" or ".addr" or ".offset") evaluated against each raw
// function object to recover its canonical address.
func NewSession(binaryPath, addressFieldPath string, timeout time.Duration) *Session {
	return &Session{binaryPath: binaryPath, addressFieldPath: addressFieldPath, timeout: timeout}
}

// Analyze spawns the engine against filePath and returns the parsed result.
// The subprocess is killed if ctx is cancelled or the session timeout
// elapses first.
func (s *Session) Analyze(ctx context.Context, jobID, filePath, formatHint string) (*domain.DecompilationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binaryPath, "--protocol=jsonl")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.NewEngineError("engine_spawn_failed", "open stdin pipe failed").WithDetails(err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.NewEngineError("engine_spawn_failed", "open stdout pipe failed").WithDetails(err.Error())
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewEngineError("engine_spawn_failed", "start engine process failed").WithDetails(err.Error())
	}

	req := Request{JobID: jobID, FilePath: filePath, Format: formatHint}
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	encodeRequest(enc, req)
	enc.RawStr("\n")
	if _, err := stdin.Write(enc.Bytes()); err != nil {
		cmd.Process.Kill()
		return nil, apperrors.NewEngineError("engine_write_failed", "write request to engine failed").WithDetails(err.Error())
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var raw rawResponse
	if scanner.Scan() {
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			cmd.Wait()
			return nil, apperrors.NewEngineError("engine_bad_output", "decode engine response failed").WithDetails(err.Error())
		}
	}
	if err := scanner.Err(); err != nil {
		cmd.Wait()
		return nil, apperrors.NewEngineError("engine_bad_output", "read engine stdout failed").WithDetails(err.Error())
	}

	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, apperrors.NewEngineError("engine_timeout", "analysis exceeded session timeout")
	}
	if waitErr != nil {
		return nil, apperrors.NewEngineError("engine_crashed", "engine process exited abnormally").WithDetails(waitErr.Error())
	}

	// extractFunctions already returns a coded AppError (engine_bad_output
	// for a malformed address field, engine_extraction_invalid for a
	// collapsed-address or dangling-reference result); wrapping it again
	// here would overwrite that code.
	functions, err := extractFunctions(raw.Functions, s.addressFieldPath)
	if err != nil {
		return nil, err
	}

	return &domain.DecompilationResult{
		JobID:     jobID,
		Metadata:  raw.Metadata,
		Functions: functions,
		Imports:   raw.Imports,
		Strings:   raw.Strings,
		Status:    raw.Status,
		Errors:    raw.Errors,
	}, nil
}

func encodeRequest(e *jx.Encoder, r Request) {
	e.ObjStart()
	e.FieldStart("job_id")
	e.Str(r.JobID)
	e.FieldStart("file_path")
	e.Str(r.FilePath)
	if r.Format != "" {
		e.FieldStart("format")
		e.Str(r.Format)
	}
	e.ObjEnd()
}

